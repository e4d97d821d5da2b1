package recorder

import (
	"context"
	"testing"
	"time"

	"TrendSentinel/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func recorders(t *testing.T) map[string]Recorder {
	t.Helper()
	sq, err := NewSQLiteRecorder(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Recorder{
		"sqlite": sq,
		"memory": NewMemoryRecorder(),
	}
}

func sampleLine() *model.TrendLineSpec {
	return &model.TrendLineSpec{
		Symbol:      "INFY",
		SecurityID:  "1594",
		AnchorDate:  day("2025-03-03"),
		AnchorPrice: decimal.RequireFromString("1650.5"),
		Angle:       45,
		Ratio:       decimal.RequireFromString("0.5"),
		PriceField:  "low",
		Points: []model.TrendLinePoint{
			{Date: day("2025-03-03"), Value: decimal.RequireFromString("1650.5")},
			{Date: day("2025-03-04"), Value: decimal.RequireFromString("1651")},
		},
	}
}

func TestSaveLine_Dedupes(t *testing.T) {
	ctx := context.Background()
	for name, r := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			id, created, err := r.SaveLine(ctx, sampleLine())
			require.NoError(t, err)
			assert.True(t, created)

			again, created, err := r.SaveLine(ctx, sampleLine())
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, id, again)

			other := sampleLine()
			other.Angle = 30
			otherID, created, err := r.SaveLine(ctx, other)
			require.NoError(t, err)
			assert.True(t, created)
			assert.NotEqual(t, id, otherID)

			got, err := r.GetLine(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "INFY", got.Symbol)
			assert.True(t, got.AnchorPrice.Equal(decimal.RequireFromString("1650.5")))
			require.Len(t, got.Points, 2)
			assert.True(t, got.Points[1].Value.Equal(decimal.NewFromInt(1651)))
			assert.Equal(t, "2025-03-04", got.Points[1].Date.Format(model.DateLayout))

			_, err = r.GetLine(ctx, 999)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestReplacePointsAndPercentDiff(t *testing.T) {
	ctx := context.Background()
	for name, r := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			id, _, err := r.SaveLine(ctx, sampleLine())
			require.NoError(t, err)

			pts := []model.TrendLinePoint{{Date: day("2025-03-05"), Value: decimal.NewFromInt(1700)}}
			require.NoError(t, r.ReplacePoints(ctx, id, pts))
			require.NoError(t, r.SetPercentDiff(ctx, id, decimal.RequireFromString("-2.35"), day("2025-03-05")))

			got, err := r.GetLine(ctx, id)
			require.NoError(t, err)
			require.Len(t, got.Points, 1)
			v, ok := got.PointOn(day("2025-03-05"))
			assert.True(t, ok)
			assert.True(t, v.Equal(decimal.NewFromInt(1700)))
			require.NotNil(t, got.PercentDiff)
			assert.Equal(t, "-2.35", got.PercentDiff.String())

			assert.ErrorIs(t, r.ReplacePoints(ctx, 999, pts), ErrNotFound)
		})
	}
}

func TestUpsertCheck_ForwardOnly(t *testing.T) {
	ctx := context.Background()
	for name, r := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			lineID, _, err := r.SaveLine(ctx, sampleLine())
			require.NoError(t, err)

			first, err := r.UpsertCheck(ctx, model.CheckRecord{
				LineID:      lineID,
				Date:        day("2025-03-10"),
				LinePrice:   decimal.NewFromInt(1660),
				ActualPrice: decimal.NewNullDecimal(decimal.NewFromInt(1661)),
				Touched:     true,
			})
			require.NoError(t, err)
			assert.True(t, first.Touched)
			assert.NotZero(t, first.ID)

			crossed, err := r.UpsertCheck(ctx, model.CheckRecord{
				LineID:    lineID,
				Date:      day("2025-03-10"),
				LinePrice: decimal.NewFromInt(1660),
				Touched:   true,
				Crossed:   true,
			})
			require.NoError(t, err)
			assert.Equal(t, first.ID, crossed.ID)
			assert.Equal(t, model.StateCrossed, crossed.State())
			assert.True(t, crossed.ActualPrice.Valid, "price kept when incoming is null")

			// A late write with touched=false must not clear anything.
			late, err := r.UpsertCheck(ctx, model.CheckRecord{
				LineID:    lineID,
				Date:      day("2025-03-10"),
				LinePrice: decimal.NewFromInt(1660),
			})
			require.NoError(t, err)
			assert.True(t, late.Touched)
			assert.True(t, late.Crossed)

			checks, err := r.ListChecks(ctx, lineID)
			require.NoError(t, err)
			assert.Len(t, checks, 1)

			inState, err := r.ChecksInState(ctx, model.StateCrossed)
			require.NoError(t, err)
			assert.Len(t, inState, 1)
			pending, err := r.ChecksInState(ctx, model.StateTouched)
			require.NoError(t, err)
			assert.Empty(t, pending)

			got, err := r.GetCheck(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, lineID, got.LineID)
		})
	}
}

func TestLinesToCheck_SkipsTouchedAndFutureAnchors(t *testing.T) {
	ctx := context.Background()
	for name, r := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			a, _, err := r.SaveLine(ctx, sampleLine())
			require.NoError(t, err)
			future := sampleLine()
			future.AnchorDate = day("2025-04-01")
			_, _, err = r.SaveLine(ctx, future)
			require.NoError(t, err)
			other := sampleLine()
			other.Symbol = "TCS"
			b, _, err := r.SaveLine(ctx, other)
			require.NoError(t, err)

			_, err = r.UpsertCheck(ctx, model.CheckRecord{LineID: a, Date: day("2025-03-10"), LinePrice: decimal.NewFromInt(1), Touched: true})
			require.NoError(t, err)

			lines, err := r.LinesToCheck(ctx, day("2025-03-10"))
			require.NoError(t, err)
			require.Len(t, lines, 1)
			assert.Equal(t, b, lines[0].ID)
		})
	}
}

func TestCrossStates(t *testing.T) {
	ctx := context.Background()
	for name, r := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			lineID, _, err := r.SaveLine(ctx, sampleLine())
			require.NoError(t, err)
			chk, err := r.UpsertCheck(ctx, model.CheckRecord{LineID: lineID, Date: day("2025-03-10"), LinePrice: decimal.NewFromInt(1), Touched: true})
			require.NoError(t, err)

			pair := model.SpanPair{Fast: 5, Slow: 20, Kind: "ema"}
			require.NoError(t, r.SaveCrossStates(ctx, []model.CrossState{{CheckID: chk.ID, Pair: pair, Phase: model.PhaseArmed}}))
			require.NoError(t, r.SaveCrossStates(ctx, []model.CrossState{{CheckID: chk.ID, Pair: pair, Phase: model.PhaseCrossed}}))

			states, err := r.CrossStates(ctx, chk.ID)
			require.NoError(t, err)
			require.Len(t, states, 1)
			assert.Equal(t, model.PhaseCrossed, states[pair].Phase)

			require.NoError(t, r.ResetCrossStates(ctx, chk.ID))
			states, err = r.CrossStates(ctx, chk.ID)
			require.NoError(t, err)
			assert.Equal(t, model.PhaseBelow, states[pair].Phase)
		})
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	for name, r := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			v, err := r.VibrationPoint(ctx)
			require.NoError(t, err)
			assert.False(t, v.Valid)

			require.NoError(t, r.SetVibrationPoint(ctx, decimal.RequireFromString("0.5")))
			require.NoError(t, r.SetVibrationPoint(ctx, decimal.RequireFromString("1.25")))
			v, err = r.VibrationPoint(ctx)
			require.NoError(t, err)
			require.True(t, v.Valid)
			assert.Equal(t, "1.25", v.Decimal.String())

			require.NoError(t, r.SetSpanPairs(ctx, []model.SpanPair{
				{Fast: 20, Slow: 50, Kind: "ema"},
				{Fast: 5, Slow: 20, Kind: "ema"},
				{Fast: 5, Slow: 20},
				{Fast: 9, Slow: 21, Kind: "dema"},
			}))
			pairs, err := r.SpanPairs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []model.SpanPair{
				{Fast: 5, Slow: 20, Kind: "ema"},
				{Fast: 9, Slow: 21, Kind: "dema"},
				{Fast: 20, Slow: 50, Kind: "ema"},
			}, pairs)
		})
	}
}

func TestSweeps(t *testing.T) {
	ctx := context.Background()
	for name, r := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			start := time.Unix(1741000000, 0)
			require.NoError(t, r.RecordSweep(ctx, &model.SweepReport{Kind: model.SweepTouch, StartedAt: start, FinishedAt: start, Lines: 3}))
			require.NoError(t, r.RecordSweep(ctx, &model.SweepReport{Kind: model.SweepTouch, StartedAt: start, FinishedAt: start.Add(time.Minute), Lines: 4, Events: 1}))
			require.NoError(t, r.RecordSweep(ctx, &model.SweepReport{Kind: model.SweepStopLoss, StartedAt: start, FinishedAt: start}))

			last, err := r.LastSweeps(ctx)
			require.NoError(t, err)
			require.Len(t, last, 2)
			assert.Equal(t, 4, last[model.SweepTouch].Lines)
			assert.Equal(t, 1, last[model.SweepTouch].Events)
		})
	}
}
