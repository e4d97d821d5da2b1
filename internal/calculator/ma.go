package calculator

import (
	"errors"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
)

// MA kinds accepted by MovingAverage.
const (
	KindEMA  = "ema"
	KindDEMA = "dema"
)

// CalculateEMA returns the exponentially weighted moving average of prices with
// alpha = 2/(span+1), seeded with the first price (recursive form, no bias adjustment).
func CalculateEMA(prices []float64, span int) ([]float64, error) {
	if span <= 0 {
		return nil, errors.New("span must be positive")
	}
	out := make([]float64, len(prices))
	if len(prices) == 0 {
		return out, nil
	}
	alpha := 2.0 / float64(span+1)
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = alpha*prices[i] + (1-alpha)*out[i-1]
	}
	return out, nil
}

// CalculateDEMA returns the double exponential moving average. Values inside
// the warm-up window are NaN.
func CalculateDEMA(prices []float64, span int) ([]float64, error) {
	if span <= 0 {
		return nil, errors.New("span must be positive")
	}
	lookback := 2 * (span - 1)
	out := make([]float64, len(prices))
	if len(prices) <= lookback {
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}
	if span == 1 {
		copy(out, prices)
		return out, nil
	}
	dema := talib.Dema(prices, span)
	for i := range out {
		if i < lookback {
			out[i] = math.NaN()
			continue
		}
		out[i] = dema[i]
	}
	return out, nil
}

// MovingAverage dispatches on kind; empty kind means EMA.
func MovingAverage(kind string, prices []float64, span int) ([]float64, error) {
	switch kind {
	case "", KindEMA:
		return CalculateEMA(prices, span)
	case KindDEMA:
		return CalculateDEMA(prices, span)
	}
	return nil, fmt.Errorf("unknown moving average kind %q", kind)
}
