package model

import "time"

// SweepKind names a periodic check.
type SweepKind string

const (
	SweepTouch       SweepKind = "TOUCH"
	SweepCrossover   SweepKind = "CROSSOVER"
	SweepBreakout    SweepKind = "BREAKOUT"
	SweepStopLoss    SweepKind = "STOP_LOSS"
	SweepPercentDiff SweepKind = "PERCENT_DIFF"
)

// SweepReport aggregates one invocation of a sweep.
type SweepReport struct {
	Kind       SweepKind
	StartedAt  time.Time
	FinishedAt time.Time
	Lines      int // items considered
	Events     int // touches, crossovers, fills or updates recorded
	Skipped    int // data unavailable or malformed input
	Failed     int // unexpected errors
	Note       string
}
