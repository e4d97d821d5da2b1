package crossover

import (
	"testing"
	"time"

	"TrendSentinel/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStep_Sequence(t *testing.T) {
	st := model.CrossState{CheckID: 7, Pair: model.SpanPair{Fast: 5, Slow: 26}}
	samples := []struct{ fast, slow float64 }{{4, 6}, {5, 5}, {6, 5}, {6, 5}}

	var events []*model.CrossoverEvent
	var phases []model.CrossPhase
	for i, s := range samples {
		var evt *model.CrossoverEvent
		st, evt = Step(st, Sample{Time: time.Unix(int64(i), 0), Fast: s.fast, Slow: s.slow, High: decimal.NewFromInt(int64(10 + i))})
		phases = append(phases, st.Phase)
		if evt != nil {
			events = append(events, evt)
		}
	}

	assert.Equal(t, []model.CrossPhase{model.PhaseArmed, model.PhaseArmed, model.PhaseCrossed, model.PhaseCrossed}, phases)
	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].CheckID)
	assert.True(t, events[0].High.Equal(decimal.NewFromInt(12)))
	assert.NotEmpty(t, events[0].ID)
}

func TestStep_AboveWithoutDipDoesNotFire(t *testing.T) {
	st := model.CrossState{}
	st, evt := Step(st, Sample{Fast: 6, Slow: 5})
	assert.Nil(t, evt)
	assert.Equal(t, model.PhaseBelow, st.Phase)
}

func TestReset_AllowsNewCrossover(t *testing.T) {
	st := model.CrossState{Phase: model.PhaseCrossed}
	st, evt := Step(st, Sample{Fast: 4, Slow: 6})
	assert.Nil(t, evt)
	assert.Equal(t, model.PhaseCrossed, st.Phase)

	st = Reset(st)
	st, _ = Step(st, Sample{Fast: 4, Slow: 6})
	_, evt = Step(st, Sample{Fast: 7, Slow: 6})
	assert.NotNil(t, evt)
}

func intraday(session time.Time, closes ...float64) model.BarSeries {
	var bars []model.Bar
	start := session.Add(9*time.Hour + 15*time.Minute)
	for i, c := range closes {
		p := decimal.NewFromFloat(c)
		bars = append(bars, model.Bar{
			Time:  start.Add(time.Duration(i) * 15 * time.Minute),
			Open:  p,
			High:  p.Add(decimal.NewFromInt(1)),
			Low:   p.Sub(decimal.NewFromInt(1)),
			Close: p,
		})
	}
	return model.NewBarSeries(bars)
}

func TestEvaluate_FirstQualifyingPairWins(t *testing.T) {
	session := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	// Falling prices keep the fast EMA below the slow one, then a jump pushes it above.
	series := intraday(session, 100, 99, 98, 97, 96, 95, 94, 120)
	pairs := []model.SpanPair{{Fast: 2, Slow: 5}, {Fast: 3, Slow: 8}}

	res, err := Evaluate(series, session, 1, pairs, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	assert.Equal(t, pairs[0], res.Event.Pair)
	require.Len(t, res.States, 1)
	assert.Equal(t, model.PhaseCrossed, res.States[0].Phase)
	assert.True(t, res.Event.Price.Equal(decimal.NewFromInt(120)))
	assert.True(t, res.Event.High.Equal(decimal.NewFromInt(121)))

	// Re-running against the crossed latch is a no-op.
	states := map[model.SpanPair]model.CrossState{pairs[0]: res.States[0], pairs[1]: {CheckID: 1, Pair: pairs[1], Phase: model.PhaseCrossed}}
	again, err := Evaluate(series, session, 1, pairs, states)
	require.NoError(t, err)
	assert.Nil(t, again.Event)
}

func TestEvaluate_NeedsTwoSessionBars(t *testing.T) {
	session := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	_, err := Evaluate(intraday(session, 100), session, 1, []model.SpanPair{{Fast: 2, Slow: 5}}, nil)
	assert.ErrorIs(t, err, ErrInsufficientBars)
}
