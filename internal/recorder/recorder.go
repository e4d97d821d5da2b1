package recorder

import (
	"context"
	"errors"
	"time"

	"TrendSentinel/internal/model"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

// LineStore persists trend line specs and their point series.
type LineStore interface {
	// SaveLine inserts a line unless one with the same symbol, anchor date,
	// angle and ratio exists; either way the stored line's id is returned.
	SaveLine(ctx context.Context, line *model.TrendLineSpec) (id int64, created bool, err error)
	GetLine(ctx context.Context, id int64) (*model.TrendLineSpec, error)
	ListLines(ctx context.Context) ([]model.TrendLineSpec, error)
	// LinesToCheck returns lines anchored on or before asOf that have never been touched.
	LinesToCheck(ctx context.Context, asOf time.Time) ([]model.TrendLineSpec, error)
	// ReplacePoints swaps the whole point series of a line.
	ReplacePoints(ctx context.Context, lineID int64, points []model.TrendLinePoint) error
	SetPercentDiff(ctx context.Context, lineID int64, value decimal.Decimal, date time.Time) error
}

// CheckStore persists one CheckRecord per (line, date).
type CheckStore interface {
	// UpsertCheck inserts or merges the record keyed by (LineID, Date). Flags
	// only move forward; the merged row is returned.
	UpsertCheck(ctx context.Context, rec model.CheckRecord) (model.CheckRecord, error)
	GetCheck(ctx context.Context, id int64) (model.CheckRecord, error)
	ListChecks(ctx context.Context, lineID int64) ([]model.CheckRecord, error)
	ChecksInState(ctx context.Context, state model.LineState) ([]model.CheckRecord, error)
}

// CrossStore persists crossover latches per (check, span pair).
type CrossStore interface {
	CrossStates(ctx context.Context, checkID int64) (map[model.SpanPair]model.CrossState, error)
	SaveCrossStates(ctx context.Context, states []model.CrossState) error
	ResetCrossStates(ctx context.Context, checkID int64) error
}

// SettingsStore holds runtime settings, read fresh on every sweep.
type SettingsStore interface {
	// VibrationPoint returns the latest tolerance percentage; Valid is false when unset.
	VibrationPoint(ctx context.Context) (decimal.NullDecimal, error)
	SetVibrationPoint(ctx context.Context, pct decimal.Decimal) error
	// SpanPairs returns configured pairs ordered by fast span, then slow span.
	SpanPairs(ctx context.Context) ([]model.SpanPair, error)
	SetSpanPairs(ctx context.Context, pairs []model.SpanPair) error
}

// Recorder persists everything the sweeps read and write.
type Recorder interface {
	LineStore
	CheckStore
	CrossStore
	SettingsStore
	RecordSweep(ctx context.Context, rep *model.SweepReport) error
	LastSweeps(ctx context.Context) (map[model.SweepKind]model.SweepReport, error)
	Close() error
}
