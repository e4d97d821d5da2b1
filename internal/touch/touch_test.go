package touch

import (
	"testing"
	"time"

	"TrendSentinel/internal/calendar"
	"TrendSentinel/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBounds(t *testing.T) {
	b := Bounds(d("100"), d("0.01"))
	assert.True(t, b.Lower.Equal(d("99.0")), b.Lower.String())
	assert.True(t, b.Upper.Equal(d("101.0")), b.Upper.String())

	assert.True(t, FractionFromPercent(d("0.5")).Equal(d("0.005")))
}

func TestBounds_NoDrift(t *testing.T) {
	// 1000 evaluations at a 0.01% tolerance accumulate no rounding error.
	frac := FractionFromPercent(d("0.01"))
	sum := decimal.Zero
	for i := 0; i < 1000; i++ {
		sum = sum.Add(Bounds(d("123.4567"), frac).Upper)
	}
	assert.True(t, sum.Equal(d("123469.045670")), sum.String())
}

func TestIsTouched(t *testing.T) {
	band := Band{Lower: d("99.0"), Upper: d("101.0")}
	tests := []struct {
		name      string
		low, high string
		want      bool
	}{
		{"overlap from below", "98", "99.5", true},
		{"below band", "90", "98", false},
		{"above band", "101.5", "103", false},
		{"straddles band", "95", "105", true},
		{"inside band", "99.5", "100.5", true},
		{"touches lower edge", "97", "99.0", true},
		{"touches upper edge", "101.0", "102", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := model.Bar{Low: d(tt.low), High: d(tt.high)}
			assert.Equal(t, tt.want, IsTouched(bar, band))
			assert.Equal(t, tt.want, Evaluator{Mode: ModeIntersection}.Touched(bar, band))
		})
	}
}

func TestLooseMode_OverTriggers(t *testing.T) {
	band := Band{Lower: d("99.0"), Upper: d("101.0")}
	bar := model.Bar{Low: d("90"), High: d("98")}
	assert.False(t, IsTouched(bar, band))
	assert.True(t, Evaluator{Mode: ModeLoose}.Touched(bar, band))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeIntersection, m)

	m, err = ParseMode("loose")
	require.NoError(t, err)
	assert.Equal(t, ModeLoose, m)

	_, err = ParseMode("strict")
	assert.Error(t, err)
}

// fixture: flat line at 100 on every session of 2025-03-03..2025-03-14.
func fixture(lows map[string]string) (model.BarSeries, []model.TrendLinePoint) {
	var bars []model.Bar
	var pts []model.TrendLinePoint
	for dt := day("2025-03-03"); !dt.After(day("2025-03-14")); dt = dt.AddDate(0, 0, 1) {
		if dt.Weekday() == time.Saturday || dt.Weekday() == time.Sunday {
			continue
		}
		key := dt.Format(model.DateLayout)
		pts = append(pts, model.TrendLinePoint{Date: dt, Value: d("100")})
		low, ok := lows[key]
		if !ok {
			low = "105"
		}
		if low == "-" {
			continue
		}
		bars = append(bars, model.Bar{Time: dt, Low: d(low), High: d(low).Add(d("3"))})
	}
	return model.NewBarSeries(bars), pts
}

func TestConfirm(t *testing.T) {
	frac := d("0.01")
	rule := Rule{Window: 5, Calendar: calendar.New()}

	t.Run("all clear", func(t *testing.T) {
		daily, pts := fixture(nil)
		v := rule.Confirm(day("2025-03-14"), daily, pts, frac)
		assert.True(t, v.Confirmed)
		assert.Len(t, v.Sessions, 5)
		assert.Equal(t, day("2025-03-13"), v.Sessions[0])
	})

	t.Run("dip inside band", func(t *testing.T) {
		daily, pts := fixture(map[string]string{"2025-03-11": "100.5"})
		v := rule.Confirm(day("2025-03-14"), daily, pts, frac)
		assert.False(t, v.Confirmed)
		assert.Equal(t, day("2025-03-11"), v.FailedOn)
	})

	t.Run("low equal to upper fails", func(t *testing.T) {
		daily, pts := fixture(map[string]string{"2025-03-10": "101"})
		assert.False(t, rule.Confirm(day("2025-03-14"), daily, pts, frac).Confirmed)
	})

	t.Run("missing bar fails closed", func(t *testing.T) {
		daily, pts := fixture(map[string]string{"2025-03-12": "-"})
		v := rule.Confirm(day("2025-03-14"), daily, pts, frac)
		assert.False(t, v.Confirmed)
		assert.Equal(t, "no bar", v.Reason)
	})

	t.Run("missing point fails closed", func(t *testing.T) {
		daily, pts := fixture(nil)
		v := rule.Confirm(day("2025-03-14"), daily, pts[:len(pts)-2], frac)
		assert.False(t, v.Confirmed)
		assert.Equal(t, "no line point", v.Reason)
	})

	t.Run("holiday is not a session", func(t *testing.T) {
		daily, pts := fixture(map[string]string{"2025-03-12": "-"})
		holidayRule := Rule{Window: 5, Calendar: calendar.New(day("2025-03-12"))}
		v := holidayRule.Confirm(day("2025-03-14"), daily, pts, frac)
		assert.True(t, v.Confirmed, v.Reason)
		assert.Equal(t, []time.Time{day("2025-03-13"), day("2025-03-11"), day("2025-03-10"), day("2025-03-07"), day("2025-03-06")}, v.Sessions)
	})

	t.Run("window of ten reaches past available points", func(t *testing.T) {
		daily, pts := fixture(nil)
		v := Rule{Window: 10}.Confirm(day("2025-03-14"), daily, pts, frac)
		assert.False(t, v.Confirmed)
	})
}
