package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrendSentinel/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	// ErrDataUnavailable means the source had nothing usable; the line is skipped this cycle.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrRateLimited is retryable.
	ErrRateLimited = errors.New("market data rate limited")
)

var validate = validator.New()

// Fetcher defines the interface for fetching market data.
// An empty series (holiday, no trades) is not an error.
type Fetcher interface {
	FetchHistory(ctx context.Context, securityID string) (model.BarSeries, error)
	FetchIntraday(ctx context.Context, securityID string, start, end time.Time, intervalMinutes int) (model.BarSeries, error)
	Name() string
}

// StatusError is a non-200, non-429 reply from a data source.
type StatusError struct {
	Source string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d, body: %s", e.Source, e.Code, e.Body)
}

// barRow is one decoded OHLCV row; low <= open,close <= high.
type barRow struct {
	Timestamp int64   `validate:"gt=0"`
	Open      float64 `validate:"gtefield=Low,ltefield=High"`
	High      float64 `validate:"gtefield=Low"`
	Low       float64 `validate:"gte=0"`
	Close     float64 `validate:"gtefield=Low,ltefield=High"`
	Volume    float64 `validate:"gte=0"`
}

func (r barRow) bar(loc *time.Location) (model.Bar, error) {
	if err := validate.Struct(r); err != nil {
		return model.Bar{}, err
	}
	return model.Bar{
		Time:   time.Unix(r.Timestamp, 0).In(loc),
		Open:   decimal.NewFromFloat(r.Open),
		High:   decimal.NewFromFloat(r.High),
		Low:    decimal.NewFromFloat(r.Low),
		Close:  decimal.NewFromFloat(r.Close),
		Volume: decimal.NewFromFloat(r.Volume),
	}, nil
}
