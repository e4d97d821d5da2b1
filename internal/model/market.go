package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the key format used for session dates everywhere (points, checks, holidays).
const DateLayout = "2006-01-02"

// Bar represents a single OHLCV candlestick.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Field returns the named price field ("open", "high", "low", "close").
func (b Bar) Field(name string) (decimal.Decimal, bool) {
	switch name {
	case "open":
		return b.Open, true
	case "high":
		return b.High, true
	case "low":
		return b.Low, true
	case "close":
		return b.Close, true
	}
	return decimal.Zero, false
}

// BarSeries is an immutable, strictly ascending sequence of bars.
type BarSeries struct {
	bars []Bar
}

// NewBarSeries orders bars by time and drops duplicate timestamps.
// When a timestamp repeats, the bar appearing later in the input (the most
// recently fetched one) is kept.
func NewBarSeries(bars []Bar) BarSeries {
	seen := make(map[int64]struct{}, len(bars))
	out := make([]Bar, 0, len(bars))
	for i := len(bars) - 1; i >= 0; i-- {
		key := bars[i].Time.UnixNano()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, bars[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return BarSeries{bars: out}
}

func (s BarSeries) Len() int     { return len(s.bars) }
func (s BarSeries) Empty() bool  { return len(s.bars) == 0 }
func (s BarSeries) At(i int) Bar { return s.bars[i] }

// Bars returns a copy of the underlying bars.
func (s BarSeries) Bars() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Last returns the most recent bar.
func (s BarSeries) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// OnDate returns all bars whose timestamp falls on the given calendar date
// (compared in the bar's own location).
func (s BarSeries) OnDate(date time.Time) BarSeries {
	key := date.Format(DateLayout)
	var out []Bar
	for _, b := range s.bars {
		if b.Time.Format(DateLayout) == key {
			out = append(out, b)
		}
	}
	return BarSeries{bars: out}
}

// DailyBar returns the first bar on the given date. Intended for daily series.
func (s BarSeries) DailyBar(date time.Time) (Bar, bool) {
	day := s.OnDate(date)
	if day.Empty() {
		return Bar{}, false
	}
	return day.bars[0], true
}

// Closes returns close prices as float64, for indicator math.
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

// Merge combines the bars of s into a single OHLCV bar stamped with the first bar's time.
func (s BarSeries) Merge() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	m := s.bars[0]
	for _, b := range s.bars[1:] {
		if b.High.GreaterThan(m.High) {
			m.High = b.High
		}
		if b.Low.LessThan(m.Low) {
			m.Low = b.Low
		}
		m.Close = b.Close
		m.Volume = m.Volume.Add(b.Volume)
	}
	return m, true
}
