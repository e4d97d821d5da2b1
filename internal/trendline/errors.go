package trendline

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAnchorNotFound = errors.New("anchor not found")
	ErrEmptyRange     = errors.New("empty range")
	ErrInvalidRatio   = errors.New("price-per-bar ratio must be positive")
	ErrInvalidField   = errors.New("unknown price field")
)

// AnchorNotFoundError is returned when no anchor bar can be resolved.
type AnchorNotFoundError struct {
	Anchor time.Time
	Bars   int
}

func (e *AnchorNotFoundError) Error() string {
	return fmt.Sprintf("anchor %s not found in %d bars", e.Anchor.Format("2006-01-02"), e.Bars)
}

func (e *AnchorNotFoundError) Is(target error) bool { return target == ErrAnchorNotFound }

// EmptyRangeError is returned when no bar exists at or after the anchor date.
type EmptyRangeError struct {
	Anchor  time.Time
	LastBar time.Time
}

func (e *EmptyRangeError) Error() string {
	return fmt.Sprintf("no data on or after %s (last bar %s)",
		e.Anchor.Format("2006-01-02"), e.LastBar.Format("2006-01-02"))
}

func (e *EmptyRangeError) Is(target error) bool { return target == ErrEmptyRange }
