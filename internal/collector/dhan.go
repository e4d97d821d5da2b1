package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"TrendSentinel/internal/model"

	json "github.com/goccy/go-json"
)

// DefaultDhanURL is the production REST root.
const DefaultDhanURL = "https://api.dhan.co/v2/"

// historyFrom is early enough to cover any listing date.
const historyFrom = "1900-01-01"

// DhanFetcher implements Fetcher using the Dhan charts REST API.
type DhanFetcher struct {
	BaseURL     string
	AccessToken string
	Segment     string
	Location    *time.Location
	Client      *http.Client
	Now         func() time.Time
}

// NewDhanFetcher creates a new fetcher with optional proxy support.
func NewDhanFetcher(baseURL, token, proxyURL string, loc *time.Location) *DhanFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if baseURL == "" {
		baseURL = DefaultDhanURL
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DhanFetcher{
		BaseURL:     strings.TrimRight(baseURL, "/") + "/",
		AccessToken: token,
		Segment:     "NSE_EQ",
		Location:    loc,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		Now: time.Now,
	}
}

func (f *DhanFetcher) Name() string { return "dhan" }

// dhanChart is the column-oriented response of both chart endpoints.
type dhanChart struct {
	Open      []float64 `json:"open"`
	High      []float64 `json:"high"`
	Low       []float64 `json:"low"`
	Close     []float64 `json:"close"`
	Volume    []float64 `json:"volume"`
	Timestamp []float64 `json:"timestamp"`
}

type historicalRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	ExpiryCode      int    `json:"expiryCode"`
	OI              bool   `json:"oi"`
	FromDate        string `json:"fromDate"`
	ToDate          string `json:"toDate"`
}

type intradayRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	OI              bool   `json:"oi"`
	FromDate        string `json:"fromDate"`
	ToDate          string `json:"toDate"`
	Interval        string `json:"interval"`
}

// FetchHistory returns every daily bar since listing.
func (f *DhanFetcher) FetchHistory(ctx context.Context, securityID string) (model.BarSeries, error) {
	return f.post(ctx, "charts/historical", historicalRequest{
		SecurityID:      securityID,
		ExchangeSegment: f.Segment,
		Instrument:      "EQUITY",
		FromDate:        historyFrom,
		ToDate:          f.Now().In(f.Location).Format(model.DateLayout),
	})
}

// FetchIntraday returns interval-minute bars between start and end (market time).
func (f *DhanFetcher) FetchIntraday(ctx context.Context, securityID string, start, end time.Time, intervalMinutes int) (model.BarSeries, error) {
	const layout = "2006-01-02 15:04:05"
	return f.post(ctx, "charts/intraday", intradayRequest{
		SecurityID:      securityID,
		ExchangeSegment: f.Segment,
		Instrument:      "EQUITY",
		FromDate:        start.In(f.Location).Format(layout),
		ToDate:          end.In(f.Location).Format(layout),
		Interval:        fmt.Sprint(intervalMinutes),
	})
}

func (f *DhanFetcher) post(ctx context.Context, path string, payload any) (model.BarSeries, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return model.BarSeries{}, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return model.BarSeries{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if f.AccessToken != "" {
		req.Header.Set("access-token", f.AccessToken)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return model.BarSeries{}, fmt.Errorf("dhan %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.BarSeries{}, fmt.Errorf("dhan read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.BarSeries{}, fmt.Errorf("dhan %s: %w", path, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return model.BarSeries{}, &StatusError{Source: "dhan " + path, Code: resp.StatusCode, Body: string(raw)}
	}

	var chart dhanChart
	if err := json.Unmarshal(raw, &chart); err != nil {
		return model.BarSeries{}, fmt.Errorf("dhan decode: %w", err)
	}
	return f.toSeries(chart)
}

func (f *DhanFetcher) toSeries(c dhanChart) (model.BarSeries, error) {
	n := len(c.Timestamp)
	if len(c.Open) != n || len(c.High) != n || len(c.Low) != n || len(c.Close) != n {
		return model.BarSeries{}, fmt.Errorf("dhan: ragged columns (timestamp=%d open=%d high=%d low=%d close=%d)",
			n, len(c.Open), len(c.High), len(c.Low), len(c.Close))
	}
	bars := make([]model.Bar, 0, n)
	for i := 0; i < n; i++ {
		row := barRow{
			Timestamp: int64(c.Timestamp[i]),
			Open:      c.Open[i],
			High:      c.High[i],
			Low:       c.Low[i],
			Close:     c.Close[i],
		}
		if i < len(c.Volume) {
			row.Volume = c.Volume[i]
		}
		b, err := row.bar(f.Location)
		if err != nil {
			return model.BarSeries{}, fmt.Errorf("dhan: invalid bar %d: %w", i, err)
		}
		bars = append(bars, b)
	}
	return model.NewBarSeries(bars), nil
}
