package trendline

import (
	"time"

	"TrendSentinel/internal/model"
)

// wallClock re-stamps t's local wall-clock reading as UTC so that bars and
// anchors from different locations compare by what a chart would show.
func wallClock(t time.Time) time.Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC)
}

func absSeconds(a, b time.Time) int64 {
	d := wallClock(a).Unix() - wallClock(b).Unix()
	if d < 0 {
		return -d
	}
	return d
}

// ResolveAnchor returns the index of the bar nearest to target by absolute
// time distance. The first bar wins on equal distance. The input does not
// need to be sorted or free of duplicates.
func ResolveAnchor(bars []model.Bar, target time.Time) (int, error) {
	best := -1
	var bestDist int64
	for i, b := range bars {
		d := absSeconds(b.Time, target)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return -1, &AnchorNotFoundError{Anchor: target, Bars: len(bars)}
	}
	return best, nil
}
