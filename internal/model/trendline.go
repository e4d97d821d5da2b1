package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrendLineSpec is an operator-defined line: anchor (date, price) plus angle and price-per-bar ratio.
type TrendLineSpec struct {
	ID          int64
	Symbol      string    `validate:"required"`
	SecurityID  string    `validate:"required"`
	AnchorDate  time.Time `validate:"required"`
	AnchorPrice decimal.Decimal
	Angle       float64 `validate:"gte=-89.99,lte=89.99"`
	Ratio       decimal.Decimal
	PriceField  string `validate:"oneof=open high low close"`
	CreatedAt   time.Time

	// Re-derivable cached fields.
	Points          []TrendLinePoint
	PercentDiff     *decimal.Decimal
	PercentDiffDate *time.Time
}

// TrendLinePoint is one sample of a line's trajectory.
type TrendLinePoint struct {
	Date  time.Time
	Value decimal.Decimal
}

// PointOn returns the line value on the given session date.
func (s *TrendLineSpec) PointOn(date time.Time) (decimal.Decimal, bool) {
	return PointOn(s.Points, date)
}

// PointOn looks a date up in a point series.
func PointOn(points []TrendLinePoint, date time.Time) (decimal.Decimal, bool) {
	key := date.Format(DateLayout)
	for _, p := range points {
		if p.Date.Format(DateLayout) == key {
			return p.Value, true
		}
	}
	return decimal.Zero, false
}
