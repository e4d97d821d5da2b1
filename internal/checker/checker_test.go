package checker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"TrendSentinel/internal/calendar"
	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/outbox"
	"TrendSentinel/internal/recorder"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(_ context.Context, subject, body string, _ ...string) {
	m.Called(subject, body)
}

func d(day int) time.Time { return time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC) }

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 1, day, hour, minute, 0, 0, time.UTC)
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func bar(t time.Time, open, high, low, close float64) model.Bar {
	return model.Bar{Time: t, Open: dec(open), High: dec(high), Low: dec(low), Close: dec(close), Volume: dec(1000)}
}

// dailyHistory has the anchor on 2025-01-01 at low 100 and every later
// session's low 10 above a 45° line with ratio 1 (line = 100 + k).
func dailyHistory() []model.Bar {
	days := []int{1, 2, 3, 6, 7, 8, 9, 10, 13, 14}
	out := []model.Bar{bar(d(1), 101, 102, 100, 101)}
	for k := 1; k < len(days); k++ {
		low := 110 + float64(k)
		out = append(out, bar(d(days[k]), low+1, low+2, low, low+1))
	}
	return out
}

// intradayBars drifts down on the 15th then jumps: EMA(2) ends below EMA(4)
// on the sixth bar and above it on the last, which also overlaps the line band.
func intradayBars() []model.Bar {
	closes := []float64{110, 109, 108, 107, 106, 105}
	var out []model.Bar
	for i, c := range closes {
		out = append(out, bar(at(15, 9, 15).Add(time.Duration(i)*15*time.Minute), c, c+1, c-1, c))
	}
	out = append(out, bar(at(15, 10, 45), 110, 121, 109.5, 120))
	out = append(out, bar(at(16, 9, 15), 122, 125, 121.5, 124))
	out = append(out, bar(at(17, 9, 15), 106, 107, 103, 104))
	return out
}

type fixture struct {
	store   *recorder.MemoryRecorder
	fetcher *collector.MockFetcher
	notify  *mockNotifier
	outbox  *outbox.FileOutbox
	checker *Checker
}

func newFixture(t *testing.T, daily []model.Bar) *fixture {
	t.Helper()
	f := &fixture{
		store: recorder.NewMemoryRecorder(),
		fetcher: &collector.MockFetcher{
			History:  map[string]model.BarSeries{"1594": model.NewBarSeries(daily)},
			Intraday: map[string]model.BarSeries{"1594": model.NewBarSeries(intradayBars())},
		},
		notify: &mockNotifier{},
	}
	ob, err := outbox.NewFileOutbox(filepath.Join(t.TempDir(), "intents.jsonl"))
	require.NoError(t, err)
	f.outbox = ob
	f.checker = New(f.store, collector.NewCollector(f.fetcher, 1, 0, 0), f.notify, ob, Options{
		Location: time.UTC,
		Quantity: 5,
	})
	t.Cleanup(func() { f.notify.AssertExpectations(t) })
	return f
}

func (f *fixture) register(t *testing.T, symbol, securityID string, anchor time.Time) int64 {
	t.Helper()
	got, err := f.checker.RegisterLines(context.Background(), Registration{
		Symbol: symbol, SecurityID: securityID, AnchorDate: anchor,
		Angles: []float64{45}, Ratio: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0].Line.ID
}

func TestRegisterLines_DedupesAndStoresPoints(t *testing.T) {
	f := newFixture(t, dailyHistory())
	ctx := context.Background()
	req := Registration{
		Symbol: "INFY", SecurityID: "1594", AnchorDate: d(1),
		Angles: []float64{45, 30}, Ratio: decimal.NewFromInt(1),
	}

	first, err := f.checker.RegisterLines(ctx, req)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.True(t, first[0].Created)
	assert.True(t, first[0].Line.AnchorPrice.Equal(decimal.NewFromInt(100)))
	assert.Len(t, first[0].Line.Points, 10+7)

	v, ok := first[0].Line.PointOn(d(15))
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(110)), v.String())

	again, err := f.checker.RegisterLines(ctx, req)
	require.NoError(t, err)
	assert.False(t, again[0].Created)
	assert.Equal(t, first[0].Line.ID, again[0].Line.ID)

	lines, err := f.store.ListLines(ctx)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	_, err = f.checker.RegisterLines(ctx, Registration{Symbol: "INFY", SecurityID: "1594", AnchorDate: d(1)})
	assert.Error(t, err)
}

func TestCheckTouches_RecordsExactlyOnce(t *testing.T) {
	f := newFixture(t, dailyHistory())
	ctx := context.Background()
	lineID := f.register(t, "INFY", "1594", d(1))
	require.NoError(t, f.store.SetVibrationPoint(ctx, decimal.NewFromInt(1)))

	f.notify.On("Notify", "Trend line touched: INFY", mock.Anything).Once()

	rep, err := f.checker.CheckTouches(ctx, at(15, 11, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Lines)
	assert.Equal(t, 1, rep.Events)

	checks, err := f.store.ListChecks(ctx, lineID)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.True(t, checks[0].Touched)
	assert.True(t, checks[0].LinePrice.Equal(decimal.NewFromInt(110)))
	assert.True(t, checks[0].ActualPrice.Decimal.Equal(dec(109.5)))

	rep, err = f.checker.CheckTouches(ctx, at(15, 11, 15))
	require.NoError(t, err)
	assert.Zero(t, rep.Lines)

	checks, err = f.store.ListChecks(ctx, lineID)
	require.NoError(t, err)
	assert.Len(t, checks, 1)

	last, err := f.store.LastSweeps(ctx)
	require.NoError(t, err)
	assert.Contains(t, last, model.SweepTouch)
}

func TestCheckTouches_ConfigMissing(t *testing.T) {
	f := newFixture(t, dailyHistory())
	f.register(t, "INFY", "1594", d(1))
	calls := f.fetcher.HistoryCalls

	rep, err := f.checker.CheckTouches(context.Background(), at(15, 11, 0))
	assert.ErrorIs(t, err, ErrConfigMissing)
	assert.Zero(t, rep.Lines)
	assert.Equal(t, calls, f.fetcher.HistoryCalls)
}

func TestCheckTouches_HolidayInsideWindow(t *testing.T) {
	var daily []model.Bar
	for _, b := range dailyHistory() {
		if !b.Time.Equal(d(13)) {
			daily = append(daily, b)
		}
	}
	f := newFixture(t, daily)
	f.checker = New(f.store, collector.NewCollector(f.fetcher, 1, 0, 0), f.notify, f.outbox, Options{
		Location: time.UTC,
		Calendar: calendar.New(d(13)),
	})
	ctx := context.Background()
	lineID := f.register(t, "INFY", "1594", d(1))
	require.NoError(t, f.store.SetVibrationPoint(ctx, decimal.NewFromInt(1)))

	f.notify.On("Notify", "Trend line touched: INFY", mock.Anything).Once()

	rep, err := f.checker.CheckTouches(ctx, at(15, 11, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Events)

	checks, err := f.store.ListChecks(ctx, lineID)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.True(t, checks[0].Touched)
	assert.True(t, checks[0].LinePrice.Equal(decimal.NewFromInt(109)), checks[0].LinePrice.String())
}

func TestCheckTouches_PriorSessionInBandNotConfirmed(t *testing.T) {
	daily := dailyHistory()
	daily[7] = bar(d(10), 108.5, 110, 107.5, 108.5) // line is 107 on the 10th
	f := newFixture(t, daily)
	ctx := context.Background()
	lineID := f.register(t, "INFY", "1594", d(1))
	require.NoError(t, f.store.SetVibrationPoint(ctx, decimal.NewFromInt(1)))

	rep, err := f.checker.CheckTouches(ctx, at(15, 11, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Lines)
	assert.Zero(t, rep.Events)

	checks, err := f.store.ListChecks(ctx, lineID)
	require.NoError(t, err)
	assert.Empty(t, checks)
}

func TestCheckTouches_BadLineDoesNotAbortSweep(t *testing.T) {
	f := newFixture(t, dailyHistory())
	ctx := context.Background()
	good := f.register(t, "INFY", "1594", d(1))
	require.NoError(t, f.store.SetVibrationPoint(ctx, decimal.NewFromInt(1)))

	// No history at all for this security.
	_, _, err := f.store.SaveLine(ctx, &model.TrendLineSpec{
		Symbol: "GONE", SecurityID: "9999", AnchorDate: d(1),
		AnchorPrice: decimal.NewFromInt(50), Angle: 10, Ratio: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	// Anchored after the last daily bar.
	_, _, err = f.store.SaveLine(ctx, &model.TrendLineSpec{
		Symbol: "LATE", SecurityID: "1594", AnchorDate: d(15),
		AnchorPrice: decimal.NewFromInt(50), Angle: 10, Ratio: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	f.notify.On("Notify", "Trend line touched: INFY", mock.Anything).Once()

	rep, err := f.checker.CheckTouches(ctx, at(15, 11, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Lines)
	assert.Equal(t, 1, rep.Events)
	assert.Equal(t, 2, rep.Skipped)
	assert.Zero(t, rep.Failed)

	checks, err := f.store.ListChecks(ctx, good)
	require.NoError(t, err)
	assert.Len(t, checks, 1)
}

func TestCheckTouches_Weekend(t *testing.T) {
	f := newFixture(t, dailyHistory())
	require.NoError(t, f.store.SetVibrationPoint(context.Background(), decimal.NewFromInt(1)))

	rep, err := f.checker.CheckTouches(context.Background(), at(18, 11, 0))
	require.NoError(t, err)
	assert.Contains(t, rep.Note, "not a trading session")
}

func TestLifecycle_TouchCrossBuySell(t *testing.T) {
	f := newFixture(t, dailyHistory())
	ctx := context.Background()
	lineID := f.register(t, "INFY", "1594", d(1))
	require.NoError(t, f.store.SetVibrationPoint(ctx, decimal.NewFromInt(1)))
	require.NoError(t, f.store.SetSpanPairs(ctx, []model.SpanPair{{Fast: 2, Slow: 4, Kind: "ema"}}))

	f.notify.On("Notify", "Trend line touched: INFY", mock.Anything).Once()
	f.notify.On("Notify", "EMA crossover: INFY", mock.Anything).Once()
	f.notify.On("Notify", "Breakout buy: INFY", mock.Anything).Once()
	f.notify.On("Notify", "Stop loss hit: INFY", mock.Anything).Once()

	_, err := f.checker.CheckTouches(ctx, at(15, 11, 0))
	require.NoError(t, err)

	rep, err := f.checker.CheckCrossovers(ctx, at(15, 11, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Events)

	checks, err := f.store.ListChecks(ctx, lineID)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	chk := checks[0]
	assert.Equal(t, model.StateCrossed, chk.State())
	assert.True(t, chk.BuyAboveHigh.Decimal.Equal(decimal.NewFromInt(121)))

	states, err := f.store.CrossStates(ctx, chk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCrossed, states[model.SpanPair{Fast: 2, Slow: 4, Kind: "ema"}].Phase)
	assert.ErrorIs(t, f.checker.ResetCrossover(ctx, chk.ID), ErrAlreadyCrossed)

	// Sustained cross: nothing new.
	rep, err = f.checker.CheckCrossovers(ctx, at(15, 11, 15))
	require.NoError(t, err)
	assert.Zero(t, rep.Lines)

	rep, err = f.checker.CheckBreakouts(ctx, at(16, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Events)

	chk, err = f.store.GetCheck(ctx, chk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePurchased, chk.State())
	assert.True(t, chk.StopLossPrice.Decimal.Equal(decimal.NewFromInt(104)))
	assert.Equal(t, int64(5), chk.Quantity)

	rep, err = f.checker.CheckStopLosses(ctx, at(17, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Events)

	chk, err = f.store.GetCheck(ctx, chk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSold, chk.State())

	intents, err := f.outbox.List()
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, model.SideBuy, intents[0].Side)
	assert.True(t, intents[0].TriggerPrice.Equal(decimal.NewFromInt(121)))
	assert.True(t, intents[0].RiskPerUnit.Equal(decimal.NewFromInt(17)))
	assert.Equal(t, model.SideSell, intents[1].Side)
	assert.Equal(t, int64(5), intents[1].Quantity)

	// Nothing left to act on.
	rep, err = f.checker.CheckStopLosses(ctx, at(17, 10, 15))
	require.NoError(t, err)
	assert.Zero(t, rep.Lines)
}

func TestCheckCrossovers_NoPairs(t *testing.T) {
	f := newFixture(t, dailyHistory())
	rep, err := f.checker.CheckCrossovers(context.Background(), at(15, 11, 0))
	require.NoError(t, err)
	assert.Equal(t, "no span pairs configured", rep.Note)
}

func TestResetCrossover_ReopensLatch(t *testing.T) {
	f := newFixture(t, dailyHistory())
	ctx := context.Background()
	lineID := f.register(t, "INFY", "1594", d(1))
	chk, err := f.store.UpsertCheck(ctx, model.CheckRecord{LineID: lineID, Date: d(15), LinePrice: decimal.NewFromInt(110), Touched: true})
	require.NoError(t, err)
	pair := model.SpanPair{Fast: 2, Slow: 4}
	require.NoError(t, f.store.SaveCrossStates(ctx, []model.CrossState{{CheckID: chk.ID, Pair: pair, Phase: model.PhaseArmed}}))

	require.NoError(t, f.checker.ResetCrossover(ctx, chk.ID))
	states, err := f.store.CrossStates(ctx, chk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseBelow, states[pair].Phase)

	assert.ErrorIs(t, f.checker.ResetCrossover(ctx, 404), recorder.ErrNotFound)
}

func TestCheckBreakouts_SkipsIncompleteRecord(t *testing.T) {
	f := newFixture(t, dailyHistory())
	ctx := context.Background()
	lineID := f.register(t, "INFY", "1594", d(1))
	_, err := f.store.UpsertCheck(ctx, model.CheckRecord{LineID: lineID, Date: d(15), LinePrice: decimal.NewFromInt(110), Touched: true, Crossed: true})
	require.NoError(t, err)

	rep, err := f.checker.CheckBreakouts(ctx, at(16, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
}

func TestUpdatePercentDiffs(t *testing.T) {
	f := newFixture(t, dailyHistory())
	ctx := context.Background()
	lineID := f.register(t, "INFY", "1594", d(1))

	rep, err := f.checker.UpdatePercentDiffs(ctx, at(15, 16, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Events)

	line, err := f.store.GetLine(ctx, lineID)
	require.NoError(t, err)
	require.NotNil(t, line.PercentDiff)
	// close 120 vs line 109 on the 14th
	assert.Equal(t, "10.09", line.PercentDiff.String())
	assert.Equal(t, "2025-01-14", line.PercentDiffDate.Format(model.DateLayout))

	rep, err = f.checker.UpdatePercentDiffs(ctx, at(31, 16, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
}

func TestLineStates(t *testing.T) {
	f := newFixture(t, dailyHistory())
	ctx := context.Background()
	lineID := f.register(t, "INFY", "1594", d(1))
	_, err := f.store.UpsertCheck(ctx, model.CheckRecord{LineID: lineID, Date: d(15), LinePrice: decimal.NewFromInt(110), Touched: true})
	require.NoError(t, err)

	lines, states, err := f.checker.LineStates(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, model.StateTouched, states[lineID])
}

func TestAdvance_RejectsOutOfOrder(t *testing.T) {
	chk := model.CheckRecord{ID: 7, Touched: true, Crossed: true}

	_, err := advance(chk, model.StateCrossed)
	assert.ErrorIs(t, err, errOutOfOrder)

	next, err := advance(chk, model.StatePurchased)
	require.NoError(t, err)
	assert.Equal(t, model.StatePurchased, next.State())
	assert.False(t, chk.Purchased)
}
