package touch

import (
	"fmt"
	"time"

	"TrendSentinel/internal/calendar"
	"TrendSentinel/internal/model"

	"github.com/shopspring/decimal"
)

// DefaultWindow is the number of prior sessions that must stay clear of the line.
const DefaultWindow = 5

// Rule requires every one of Window sessions before a candidate touch to have
// its low strictly above that session's band upper bound.
type Rule struct {
	Window   int
	Calendar *calendar.Calendar
}

// Verdict explains a confirmation outcome.
type Verdict struct {
	Confirmed bool
	Sessions  []time.Time
	// FailedOn is the first session that broke the rule (zero when confirmed).
	FailedOn time.Time
	Reason   string
}

// Confirm checks the prior sessions of date against the daily series and line points.
// Holidays are not sessions and never enter the window. A session with no line
// point or no bar fails the rule.
func (r Rule) Confirm(date time.Time, daily model.BarSeries, points []model.TrendLinePoint, fraction decimal.Decimal) Verdict {
	window := r.Window
	if window <= 0 {
		window = DefaultWindow
	}
	cal := r.Calendar
	if cal == nil {
		cal = calendar.New()
	}

	sessions := cal.PriorSessions(date, window, true)
	v := Verdict{Sessions: sessions}
	for _, d := range sessions {
		price, ok := model.PointOn(points, d)
		if !ok {
			return v.fail(d, "no line point")
		}
		bar, ok := daily.DailyBar(d)
		if !ok {
			return v.fail(d, "no bar")
		}
		band := Bounds(price, fraction)
		if !bar.Low.GreaterThan(band.Upper) {
			return v.fail(d, fmt.Sprintf("low %s not above band upper %s", bar.Low, band.Upper))
		}
	}
	v.Confirmed = true
	return v
}

func (v Verdict) fail(d time.Time, reason string) Verdict {
	v.FailedOn = d
	v.Reason = reason
	return v
}
