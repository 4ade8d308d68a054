// Package coingecko retrieves spot prices from the CoinGecko markets
// API. It is the simulation's only market data source.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultURL is the public CoinGecko API endpoint.
const DefaultURL = "https://api.coingecko.com"

const (
	maxPerPage    = 100
	fetchAttempts = 3
	retryBase     = 2 * time.Second
	userAgent     = "SpiralBot/2.1 (trading-simulator)"
)

// Client is a CoinGecko API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryBase  time.Duration

	// APICalls counts requests made, for the shutdown summary.
	APICalls int
}

// NewClient creates a CoinGecko client. An empty baseURL selects the
// public API; tests point it at a local server.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		retryBase: retryBase,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// marketsEntry is one row of the /coins/markets response.
type marketsEntry struct {
	Symbol       string   `json:"symbol"`
	CurrentPrice *float64 `json:"current_price"`
}

// FetchPrices returns up to limit symbol→price pairs for the largest
// assets by market cap. Symbols are uppercased and non-positive prices
// dropped. Any transport or parse failure yields an empty map and an
// error; rate limits and server errors are retried with backoff first.
func (c *Client) FetchPrices(ctx context.Context, limit int) (map[string]float64, error) {
	if limit <= 0 || limit > maxPerPage {
		limit = maxPerPage
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("order", "market_cap_desc")
	params.Set("per_page", fmt.Sprintf("%d", limit))
	params.Set("page", "1")
	params.Set("sparkline", "false")

	apiURL := fmt.Sprintf("%s/api/v3/coins/markets?%s", c.baseURL, params.Encode())

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryBase * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		prices, retryable, err := c.fetchOnce(ctx, apiURL)
		if err == nil {
			return prices, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, apiURL string) (map[string]float64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	c.APICalls++
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var entries []marketsEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}

	prices := make(map[string]float64, len(entries))
	for _, e := range entries {
		if e.Symbol == "" || e.CurrentPrice == nil || *e.CurrentPrice <= 0 {
			continue
		}
		prices[strings.ToUpper(e.Symbol)] = *e.CurrentPrice
	}
	return prices, false, nil
}
