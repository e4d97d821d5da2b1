package touch

import (
	"fmt"

	"TrendSentinel/internal/model"
)

// Mode selects the touch definition.
type Mode string

const (
	// ModeIntersection counts a touch when [low, high] overlaps the band.
	ModeIntersection Mode = "intersection"
	// ModeLoose counts a touch when low <= upper OR high >= lower. It over-triggers
	// and is kept only as an explicit opt-in.
	ModeLoose Mode = "loose"
)

// ParseMode maps a config value to a Mode; empty means ModeIntersection.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIntersection:
		return ModeIntersection, nil
	case ModeLoose:
		return ModeLoose, nil
	}
	return "", fmt.Errorf("unknown touch mode %q", s)
}

// IsTouched reports whether the bar's range overlaps the band.
func IsTouched(bar model.Bar, band Band) bool {
	return bar.High.GreaterThanOrEqual(band.Lower) && bar.Low.LessThanOrEqual(band.Upper)
}

// Evaluator applies the configured touch definition.
type Evaluator struct {
	Mode Mode
}

func (e Evaluator) Touched(bar model.Bar, band Band) bool {
	if e.Mode == ModeLoose {
		return bar.Low.LessThanOrEqual(band.Upper) || bar.High.GreaterThanOrEqual(band.Lower)
	}
	return IsTouched(bar, band)
}
