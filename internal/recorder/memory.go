package recorder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"TrendSentinel/internal/model"

	"github.com/shopspring/decimal"
)

// MemoryRecorder is a Recorder kept entirely in memory. It backs tests and
// dry runs and follows the same merge rules as SQLiteRecorder.
type MemoryRecorder struct {
	mu        sync.Mutex
	lines     []model.TrendLineSpec
	checks    []model.CheckRecord
	cross     map[int64]map[model.SpanPair]model.CrossState
	vibration decimal.NullDecimal
	pairs     []model.SpanPair
	sweeps    map[model.SweepKind]model.SweepReport
	nextCheck int64
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		cross:  make(map[int64]map[model.SpanPair]model.CrossState),
		sweeps: make(map[model.SweepKind]model.SweepReport),
	}
}

func sameDay(a, b time.Time) bool {
	return a.Format(model.DateLayout) == b.Format(model.DateLayout)
}

func (m *MemoryRecorder) SaveLine(_ context.Context, line *model.TrendLineSpec) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.lines {
		if l.Symbol == line.Symbol && sameDay(l.AnchorDate, line.AnchorDate) &&
			l.Angle == line.Angle && l.Ratio.Equal(line.Ratio) {
			return l.ID, false, nil
		}
	}
	l := *line
	l.ID = int64(len(m.lines) + 1)
	if l.PriceField == "" {
		l.PriceField = "low"
	}
	l.CreatedAt = time.Now()
	l.Points = append([]model.TrendLinePoint(nil), line.Points...)
	m.lines = append(m.lines, l)
	return l.ID, true, nil
}

func (m *MemoryRecorder) GetLine(_ context.Context, id int64) (*model.TrendLineSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id < 1 || id > int64(len(m.lines)) {
		return nil, ErrNotFound
	}
	l := m.lines[id-1]
	return &l, nil
}

func (m *MemoryRecorder) ListLines(_ context.Context) ([]model.TrendLineSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TrendLineSpec(nil), m.lines...), nil
}

func (m *MemoryRecorder) LinesToCheck(_ context.Context, asOf time.Time) ([]model.TrendLineSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := make(map[int64]bool)
	for _, c := range m.checks {
		if c.Touched {
			touched[c.LineID] = true
		}
	}
	cutoff := asOf.Format(model.DateLayout)
	var out []model.TrendLineSpec
	for _, l := range m.lines {
		if l.AnchorDate.Format(model.DateLayout) <= cutoff && !touched[l.ID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ReplacePoints(_ context.Context, lineID int64, points []model.TrendLinePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lineID < 1 || lineID > int64(len(m.lines)) {
		return ErrNotFound
	}
	m.lines[lineID-1].Points = append([]model.TrendLinePoint(nil), points...)
	return nil
}

func (m *MemoryRecorder) SetPercentDiff(_ context.Context, lineID int64, value decimal.Decimal, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lineID < 1 || lineID > int64(len(m.lines)) {
		return ErrNotFound
	}
	m.lines[lineID-1].PercentDiff = &value
	m.lines[lineID-1].PercentDiffDate = &date
	return nil
}

func (m *MemoryRecorder) UpsertCheck(_ context.Context, rec model.CheckRecord) (model.CheckRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.CheckedAt = time.Now()
	for i, c := range m.checks {
		if c.LineID == rec.LineID && sameDay(c.Date, rec.Date) {
			merged := model.MergeForward(c, rec)
			merged.Date = c.Date
			m.checks[i] = merged
			return merged, nil
		}
	}
	m.nextCheck++
	rec.ID = m.nextCheck
	m.checks = append(m.checks, rec)
	return rec, nil
}

func (m *MemoryRecorder) GetCheck(_ context.Context, id int64) (model.CheckRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.checks {
		if c.ID == id {
			return c, nil
		}
	}
	return model.CheckRecord{}, ErrNotFound
}

func (m *MemoryRecorder) ListChecks(_ context.Context, lineID int64) ([]model.CheckRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.CheckRecord
	for _, c := range m.checks {
		if c.LineID == lineID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (m *MemoryRecorder) ChecksInState(_ context.Context, state model.LineState) ([]model.CheckRecord, error) {
	if state < model.StatePending || state > model.StateSold {
		return nil, fmt.Errorf("unknown state %d", state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.CheckRecord
	for _, c := range m.checks {
		if c.State() == state {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) CrossStates(_ context.Context, checkID int64) (map[model.SpanPair]model.CrossState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[model.SpanPair]model.CrossState, len(m.cross[checkID]))
	for k, v := range m.cross[checkID] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryRecorder) SaveCrossStates(_ context.Context, states []model.CrossState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, st := range states {
		byPair, ok := m.cross[st.CheckID]
		if !ok {
			byPair = make(map[model.SpanPair]model.CrossState)
			m.cross[st.CheckID] = byPair
		}
		st.UpdatedAt = time.Now()
		byPair[st.Pair] = st
	}
	return nil
}

func (m *MemoryRecorder) ResetCrossStates(_ context.Context, checkID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, st := range m.cross[checkID] {
		st.Phase = model.PhaseBelow
		st.UpdatedAt = time.Now()
		m.cross[checkID][k] = st
	}
	return nil
}

func (m *MemoryRecorder) VibrationPoint(_ context.Context) (decimal.NullDecimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vibration, nil
}

func (m *MemoryRecorder) SetVibrationPoint(_ context.Context, pct decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vibration = decimal.NewNullDecimal(pct)
	return nil
}

func (m *MemoryRecorder) SpanPairs(_ context.Context) ([]model.SpanPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SpanPair(nil), m.pairs...), nil
}

func (m *MemoryRecorder) SetSpanPairs(_ context.Context, pairs []model.SpanPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[model.SpanPair]bool)
	m.pairs = m.pairs[:0]
	for _, p := range pairs {
		p = p.Normalize()
		if seen[p] {
			continue
		}
		seen[p] = true
		m.pairs = append(m.pairs, p)
	}
	sort.SliceStable(m.pairs, func(i, j int) bool {
		a, b := m.pairs[i], m.pairs[j]
		if a.Fast != b.Fast {
			return a.Fast < b.Fast
		}
		if a.Slow != b.Slow {
			return a.Slow < b.Slow
		}
		return a.Kind < b.Kind
	})
	return nil
}

func (m *MemoryRecorder) RecordSweep(_ context.Context, rep *model.SweepReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps[rep.Kind] = *rep
	return nil
}

func (m *MemoryRecorder) LastSweeps(_ context.Context) (map[model.SweepKind]model.SweepReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[model.SweepKind]model.SweepReport, len(m.sweeps))
	for k, v := range m.sweeps {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryRecorder) Close() error { return nil }

var (
	_ Recorder = (*MemoryRecorder)(nil)
	_ Recorder = (*SQLiteRecorder)(nil)
)
