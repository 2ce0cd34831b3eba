// Package exchangerate provides spot FX rates from exchangerate-api.com.
package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stockwatch/internal/domain"
)

// Client for exchangerate-api.com
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new exchangerate-api.com client.
// Rates are fetched fresh on every call; callers needing amortized cost
// wrap this with their own cache.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://api.exchangerate-api.com/v4/latest",
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "exchangerate-api").Logger(),
	}
}

// Rate fetches the from->to spot rate. All failures map to
// domain.ErrRateUnavailable; a rate is never silently defaulted.
func (c *Client) Rate(ctx context.Context, from, to domain.Currency) (float64, error) {
	if from == to {
		return 1.0, nil
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, from)
	c.log.Debug().Str("url", url).Msg("Fetching rates")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create request: %v", domain.ErrRateUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: API request failed: %v", domain.ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: API returned status %d", domain.ErrRateUnavailable, resp.StatusCode)
	}

	var result struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("%w: failed to parse response: %v", domain.ErrRateUnavailable, err)
	}

	rate, exists := result.Rates[string(to)]
	if !exists {
		return 0, fmt.Errorf("%w: rate not found for %s->%s", domain.ErrRateUnavailable, from, to)
	}

	c.log.Debug().
		Str("from", string(from)).
		Str("to", string(to)).
		Float64("rate", rate).
		Msg("Fetched rate")

	return rate, nil
}
