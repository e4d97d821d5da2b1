// Package touch decides whether a price bar touched a trend line.
package touch

import "github.com/shopspring/decimal"

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Band is the symmetric tolerance interval around a line price.
type Band struct {
	Lower decimal.Decimal
	Upper decimal.Decimal
}

// Bounds returns [price*(1-fraction), price*(1+fraction)].
func Bounds(linePrice, fraction decimal.Decimal) Band {
	return Band{
		Lower: linePrice.Mul(one.Sub(fraction)),
		Upper: linePrice.Mul(one.Add(fraction)),
	}
}

// FractionFromPercent converts a vibration point percentage (0.5 means 0.5%) to a fraction.
func FractionFromPercent(pct decimal.Decimal) decimal.Decimal {
	return pct.Div(hundred)
}
