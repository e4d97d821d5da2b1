package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"TrendSentinel/internal/model"

	json "github.com/goccy/go-json"
)

// DefaultYahooURL is the chart API root.
const DefaultYahooURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

// YahooFetcher implements Fetcher using the Yahoo Finance chart API.
// Security IDs are Yahoo tickers (e.g. "TCS.NS").
type YahooFetcher struct {
	BaseURL  string
	Location *time.Location
	Client   *http.Client
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(proxyURL string, loc *time.Location) *YahooFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &YahooFetcher{
		BaseURL:  DefaultYahooURL,
		Location: loc,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func at(v []*float64, i int) float64 {
	if i >= len(v) || v[i] == nil {
		return 0
	}
	return *v[i]
}

func (f *YahooFetcher) fetchChart(ctx context.Context, symbol string, query url.Values) (model.BarSeries, error) {
	u := f.BaseURL + url.PathEscape(symbol) + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.BarSeries{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return model.BarSeries{}, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.BarSeries{}, fmt.Errorf("yahoo read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.BarSeries{}, fmt.Errorf("yahoo: %w", ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return model.BarSeries{}, &StatusError{Source: "yahoo", Code: resp.StatusCode, Body: string(body)}
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return model.BarSeries{}, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return model.BarSeries{}, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return model.BarSeries{}, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]model.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		row := barRow{
			Timestamp: ts,
			Open:      at(quote.Open, i),
			High:      at(quote.High, i),
			Low:       at(quote.Low, i),
			Close:     at(quote.Close, i),
			Volume:    at(quote.Volume, i),
		}
		if row.Open == 0 && row.High == 0 && row.Low == 0 && row.Close == 0 {
			continue // null bar
		}
		b, err := row.bar(f.Location)
		if err != nil {
			return model.BarSeries{}, fmt.Errorf("yahoo: invalid bar %d: %w", i, err)
		}
		bars = append(bars, b)
	}
	return model.NewBarSeries(bars), nil
}

// FetchHistory returns the full daily history.
func (f *YahooFetcher) FetchHistory(ctx context.Context, symbol string) (model.BarSeries, error) {
	return f.fetchChart(ctx, symbol, url.Values{"interval": {"1d"}, "range": {"max"}})
}

// FetchIntraday returns interval-minute bars between start and end.
func (f *YahooFetcher) FetchIntraday(ctx context.Context, symbol string, start, end time.Time, intervalMinutes int) (model.BarSeries, error) {
	return f.fetchChart(ctx, symbol, url.Values{
		"interval": {fmt.Sprintf("%dm", intervalMinutes)},
		"period1":  {fmt.Sprint(start.Unix())},
		"period2":  {fmt.Sprint(end.Unix())},
	})
}
