// Package yahoo provides the daily-close price source backed by the
// Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stockwatch/internal/domain"
)

// Client is a Yahoo Finance API client
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Yahoo Finance client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://query1.finance.yahoo.com/v8/finance/chart",
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "yahoo").Logger(),
	}
}

// chartResponse is the subset of the chart API payload we consume.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchDailyCloses returns daily closing prices in [from, to], ascending,
// one point per date. Yahoo occasionally repeats an index entry; the last
// occurrence wins, matching the upstream contract the merge engine assumes.
func (c *Client) FetchDailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]domain.PricePoint, error) {
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("period1", fmt.Sprintf("%d", domain.Day(from).Unix()))
	// period2 is exclusive; extend one day so `to` itself is included
	params.Add("period2", fmt.Sprintf("%d", domain.NextDay(to).Unix()))

	result, err := c.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	if len(result.Chart.Result) == 0 {
		c.log.Debug().Str("symbol", symbol).Msg("No data in window")
		return []domain.PricePoint{}, nil
	}

	chartData := result.Chart.Result[0]
	if len(chartData.Indicators.Quote) == 0 {
		c.log.Debug().Str("symbol", symbol).Msg("No quote data in response")
		return []domain.PricePoint{}, nil
	}

	closes := chartData.Indicators.Quote[0].Close

	// Last occurrence wins for duplicate dates
	byDate := make(map[time.Time]float64, len(chartData.Timestamp))
	for i, ts := range chartData.Timestamp {
		if i >= len(closes) {
			break
		}
		// Yahoo encodes missing days as zero closes
		if closes[i] == 0 {
			continue
		}
		day := domain.Day(time.Unix(ts, 0).UTC())
		if day.Before(domain.Day(from)) || day.After(domain.Day(to)) {
			continue
		}
		byDate[day] = closes[i]
	}

	points := make([]domain.PricePoint, 0, len(byDate))
	for day, close := range byDate {
		points = append(points, domain.PricePoint{Date: day, Close: close})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	c.log.Debug().
		Str("symbol", symbol).
		Time("from", from).
		Time("to", to).
		Int("count", len(points)).
		Msg("Fetched daily closes")

	return points, nil
}

// Confirm reports whether Yahoo recognises the ticker. Used to validate
// user input before a position is created.
func (c *Client) Confirm(ctx context.Context, symbol string) (bool, error) {
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("range", "7d")

	result, err := c.fetchChart(ctx, symbol, params)
	if err != nil {
		if isUnknownSymbol(err) {
			return false, nil
		}
		return false, err
	}

	return len(result.Chart.Result) > 0, nil
}

func (c *Client) fetchChart(ctx context.Context, symbol string, params url.Values) (*chartResponse, error) {
	reqURL := c.baseURL + "/" + url.PathEscape(symbol) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrSymbolUnknown, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrSourceUnavailable, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", domain.ErrSourceUnavailable, err)
	}

	var result chartResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", domain.ErrSourceUnavailable, err)
	}

	if result.Chart.Error != nil {
		if result.Chart.Error.Code == "Not Found" {
			return nil, fmt.Errorf("%w: %s: %s", domain.ErrSymbolUnknown, symbol, result.Chart.Error.Description)
		}
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrSourceUnavailable, result.Chart.Error.Code, result.Chart.Error.Description)
	}

	return &result, nil
}

func isUnknownSymbol(err error) bool {
	return errors.Is(err, domain.ErrSymbolUnknown)
}
