package calculator

import (
	"errors"

	"TrendSentinel/internal/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DayRange returns the high and low across the given bars.
func DayRange(bars model.BarSeries) (high, low decimal.Decimal, err error) {
	if bars.Empty() {
		return decimal.Zero, decimal.Zero, errors.New("no bars provided")
	}
	merged, _ := bars.Merge()
	return merged.High, merged.Low, nil
}

// PercentDifference returns (price-line)/line*100 rounded to two places.
func PercentDifference(price, line decimal.Decimal) (decimal.Decimal, error) {
	if line.IsZero() {
		return decimal.Zero, errors.New("line price is zero")
	}
	return price.Sub(line).Div(line).Mul(hundred).Round(2), nil
}
