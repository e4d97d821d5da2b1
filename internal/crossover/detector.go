// Package crossover detects a fast moving average rising above a slow one
// after it has been below.
package crossover

import (
	"errors"
	"fmt"
	"math"
	"time"

	"TrendSentinel/internal/calculator"
	"TrendSentinel/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInsufficientBars = errors.New("need at least two session bars")

// Sample is one bar's moving-average reading.
type Sample struct {
	Time  time.Time
	Fast  float64
	Slow  float64
	Close decimal.Decimal
	High  decimal.Decimal
}

// Step applies one sample to a latch and returns the new state and, on a
// confirmed crossover, the event. A CROSSED latch ignores samples until Reset.
func Step(st model.CrossState, s Sample) (model.CrossState, *model.CrossoverEvent) {
	if st.Phase == "" {
		st.Phase = model.PhaseBelow
	}
	if st.Phase == model.PhaseCrossed || math.IsNaN(s.Fast) || math.IsNaN(s.Slow) {
		return st, nil
	}
	switch {
	case s.Fast < s.Slow:
		st.Phase = model.PhaseArmed
	case s.Fast > s.Slow && st.Phase == model.PhaseArmed:
		st.Phase = model.PhaseCrossed
		return st, &model.CrossoverEvent{
			ID:      uuid.NewString(),
			CheckID: st.CheckID,
			Pair:    st.Pair,
			Time:    s.Time,
			Price:   s.Close,
			High:    s.High,
		}
	}
	return st, nil
}

// Reset re-opens a latch so that a renewed dip can arm it again.
func Reset(st model.CrossState) model.CrossState {
	st.Phase = model.PhaseBelow
	return st
}

// Result is the outcome of evaluating every span pair for one check.
type Result struct {
	States []model.CrossState
	Event  *model.CrossoverEvent
}

// Evaluate computes each pair's averages over the whole series, then feeds the
// last two bars of the session into that pair's latch. Pairs are evaluated in
// the given order and the first one that crosses wins.
func Evaluate(series model.BarSeries, session time.Time, checkID int64, pairs []model.SpanPair, states map[model.SpanPair]model.CrossState) (Result, error) {
	bars := series.Bars()
	key := session.Format(model.DateLayout)
	var idx []int
	for i, b := range bars {
		if b.Time.Format(model.DateLayout) == key {
			idx = append(idx, i)
		}
	}
	if len(idx) < 2 {
		return Result{}, ErrInsufficientBars
	}
	prev, last := idx[len(idx)-2], idx[len(idx)-1]
	closes := series.Closes()

	var res Result
	for _, p := range pairs {
		fast, err := calculator.MovingAverage(p.Kind, closes, p.Fast)
		if err != nil {
			return Result{}, fmt.Errorf("fast %d: %w", p.Fast, err)
		}
		slow, err := calculator.MovingAverage(p.Kind, closes, p.Slow)
		if err != nil {
			return Result{}, fmt.Errorf("slow %d: %w", p.Slow, err)
		}

		st, ok := states[p]
		if !ok {
			st = model.CrossState{CheckID: checkID, Pair: p, Phase: model.PhaseBelow}
		}
		var evt *model.CrossoverEvent
		for _, i := range []int{prev, last} {
			var e *model.CrossoverEvent
			st, e = Step(st, Sample{Time: bars[i].Time, Fast: fast[i], Slow: slow[i], Close: bars[i].Close, High: bars[i].High})
			if e != nil {
				evt = e
			}
		}
		res.States = append(res.States, st)
		if evt != nil {
			res.Event = evt
			break
		}
	}
	return res, nil
}
