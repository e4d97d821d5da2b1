// Package trendline computes a straight price trajectory from an anchor bar,
// an angle and a price-per-bar ratio.
package trendline

import (
	"math"
	"time"

	"TrendSentinel/internal/calendar"
	"TrendSentinel/internal/model"

	"github.com/shopspring/decimal"
)

// DefaultForwardSessions is how many sessions past the last bar a line is extended.
const DefaultForwardSessions = 7

// slopePrecision trims float noise from tan() (tan(45°) = 0.9999999999999999).
const slopePrecision = 12

// Params are the inputs of a line computation.
type Params struct {
	Anchor          time.Time
	Angle           float64
	Ratio           decimal.Decimal
	PriceField      string // defaults to "low"
	ForwardSessions int    // defaults to DefaultForwardSessions; negative disables
}

// Model is a resolved trend line over a bar series.
type Model struct {
	series      model.BarSeries
	cal         *calendar.Calendar
	forward     int
	anchorIndex int
	anchorPrice decimal.Decimal
	slope       decimal.Decimal
}

// Slope returns tan(radians(angle)) * ratio.
func Slope(angle float64, ratio decimal.Decimal) decimal.Decimal {
	t := math.Tan(angle * math.Pi / 180)
	return decimal.NewFromFloat(t).Round(slopePrecision).Mul(ratio)
}

// New resolves the anchor and validates the inputs.
func New(series model.BarSeries, cal *calendar.Calendar, p Params) (*Model, error) {
	if !p.Ratio.IsPositive() {
		return nil, ErrInvalidRatio
	}
	field := p.PriceField
	if field == "" {
		field = "low"
	}
	if _, ok := (model.Bar{}).Field(field); !ok {
		return nil, ErrInvalidField
	}
	forward := p.ForwardSessions
	switch {
	case forward == 0:
		forward = DefaultForwardSessions
	case forward < 0:
		forward = 0
	}
	if cal == nil {
		cal = calendar.New()
	}

	bars := series.Bars()
	idx, err := ResolveAnchor(bars, p.Anchor)
	if err != nil {
		return nil, err
	}
	last := bars[len(bars)-1]
	if calendar.Day(last.Time).Before(calendar.Day(p.Anchor)) {
		return nil, &EmptyRangeError{Anchor: p.Anchor, LastBar: last.Time}
	}
	price, _ := bars[idx].Field(field)

	return &Model{
		series:      series,
		cal:         cal,
		forward:     forward,
		anchorIndex: idx,
		anchorPrice: price,
		slope:       Slope(p.Angle, p.Ratio),
	}, nil
}

func (m *Model) AnchorIndex() int             { return m.anchorIndex }
func (m *Model) AnchorPrice() decimal.Decimal { return m.anchorPrice }
func (m *Model) AnchorTime() time.Time        { return m.series.At(m.anchorIndex).Time }
func (m *Model) Slope() decimal.Decimal       { return m.slope }

// PriceAt returns anchor_price + offset*slope.
func (m *Model) PriceAt(offset int) decimal.Decimal {
	return m.anchorPrice.Add(m.slope.Mul(decimal.NewFromInt(int64(offset))))
}

// Points returns one point per bar from the anchor through the last bar,
// followed by the forward sessions after the last bar.
func (m *Model) Points() []model.TrendLinePoint {
	n := m.series.Len()
	out := make([]model.TrendLinePoint, 0, n-m.anchorIndex+m.forward)
	offset := 0
	for i := m.anchorIndex; i < n; i++ {
		out = append(out, model.TrendLinePoint{
			Date:  calendar.Day(m.series.At(i).Time),
			Value: m.PriceAt(offset),
		})
		offset++
	}
	lastDay := calendar.Day(m.series.At(n - 1).Time)
	for _, d := range m.cal.NextSessions(lastDay, m.forward) {
		out = append(out, model.TrendLinePoint{Date: d, Value: m.PriceAt(offset)})
		offset++
	}
	return out
}
