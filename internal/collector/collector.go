package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"TrendSentinel/internal/model"

	"github.com/rs/zerolog/log"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	mu sync.Mutex

	History  map[string]model.BarSeries
	Intraday map[string]model.BarSeries
	// Errs is consumed one per call before data is returned.
	Errs []error

	HistoryCalls  int
	IntradayCalls int
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) nextErr() error {
	if len(m.Errs) == 0 {
		return nil
	}
	err := m.Errs[0]
	m.Errs = m.Errs[1:]
	return err
}

func (m *MockFetcher) FetchHistory(_ context.Context, securityID string) (model.BarSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls++
	if err := m.nextErr(); err != nil {
		return model.BarSeries{}, err
	}
	return m.History[securityID], nil
}

// FetchIntraday filters the configured series to [start, end].
func (m *MockFetcher) FetchIntraday(_ context.Context, securityID string, start, end time.Time, _ int) (model.BarSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IntradayCalls++
	if err := m.nextErr(); err != nil {
		return model.BarSeries{}, err
	}
	var out []model.Bar
	for _, b := range m.Intraday[securityID].Bars() {
		if !b.Time.Before(start) && !b.Time.After(end) {
			out = append(out, b)
		}
	}
	return model.NewBarSeries(out), nil
}

// Collector wraps a Fetcher with bounded retries, a fixed backoff and a per-call timeout.
type Collector struct {
	Fetcher  Fetcher
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, attempts int, backoff, timeout time.Duration) *Collector {
	if attempts < 1 {
		attempts = 1
	}
	return &Collector{Fetcher: fetcher, Attempts: attempts, Backoff: backoff, Timeout: timeout}
}

// History fetches the full daily history of a security.
func (c *Collector) History(ctx context.Context, securityID string) (model.BarSeries, error) {
	return c.retry(ctx, "history "+securityID, func(ctx context.Context) (model.BarSeries, error) {
		return c.Fetcher.FetchHistory(ctx, securityID)
	})
}

// Intraday fetches interval-minute bars of a security between start and end.
func (c *Collector) Intraday(ctx context.Context, securityID string, start, end time.Time, intervalMinutes int) (model.BarSeries, error) {
	return c.retry(ctx, "intraday "+securityID, func(ctx context.Context) (model.BarSeries, error) {
		return c.Fetcher.FetchIntraday(ctx, securityID, start, end, intervalMinutes)
	})
}

func (c *Collector) retry(ctx context.Context, op string, fn func(context.Context) (model.BarSeries, error)) (model.BarSeries, error) {
	var lastErr error
	for i := 0; i < c.Attempts; i++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		}
		series, err := fn(callCtx)
		cancel()
		if err == nil {
			return series, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return model.BarSeries{}, ctx.Err()
		}
		if !retryable(err) {
			return model.BarSeries{}, fmt.Errorf("%s: %w", op, err)
		}
		if i == c.Attempts-1 {
			break
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", i+1).Int("attempts", c.Attempts).
			Dur("backoff", c.Backoff).Msg("fetch failed, retrying")
		select {
		case <-ctx.Done():
			return model.BarSeries{}, ctx.Err()
		case <-time.After(c.Backoff):
		}
	}
	if errors.Is(lastErr, ErrRateLimited) {
		return model.BarSeries{}, fmt.Errorf("%w: %s after %d attempts: %w", ErrDataUnavailable, op, c.Attempts, lastErr)
	}
	return model.BarSeries{}, fmt.Errorf("%s after %d attempts: %w", op, c.Attempts, lastErr)
}

// retryable reports whether another attempt may succeed: rate limiting,
// transport failures, per-call timeouts and 5xx replies.
func retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
