// Package metrics is the CoinGecko-compatible market-cap client half of
// C4/C7: top-market-cap discovery for the Universe Selector and per-symbol
// metrics refresh for the Hourly Refresher. Grounded on
// original_source/services/ingestion-service/main.py's
// CoinGeckoIngestionService pagination and 429 handling.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"perpfutures-ingestor/internal/apperrors"
)

const (
	defaultTimeout = 5 * time.Second
	pageSize       = 250
)

// rateLimitSleep is a var (not a const) so tests can shrink it instead of
// actually blocking 60s on a simulated 429.
var rateLimitSleep = 60 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: &http.Client{Timeout: defaultTimeout}}
}

// MarketEntry is one row of the /coins/markets response.
type MarketEntry struct {
	Symbol            string
	CurrentPrice      float64
	MarketCap         float64
	TotalVolume       float64
	CirculatingSupply float64
	Image             string
}

// FetchTopMetrics pages through /coins/markets?order=market_cap_desc up to
// limit rows. On a 429 it sleeps 60s and retries that page exactly once
// (spec §4.3/§9 caps the original's unbounded retry at one); any other
// non-2xx stops pagination.
func (c *Client) FetchTopMetrics(ctx context.Context, limit int) ([]MarketEntry, error) {
	var out []MarketEntry
	page := 1

	for len(out) < limit {
		entries, status, err := c.fetchMarketsPage(ctx, page, nil)
		if err != nil {
			return out, &apperrors.TransientNetworkError{Op: "FetchTopMetrics", Err: err}
		}
		if status == http.StatusTooManyRequests {
			time.Sleep(rateLimitSleep)
			entries, status, err = c.fetchMarketsPage(ctx, page, nil)
			if err != nil {
				return out, &apperrors.TransientNetworkError{Op: "FetchTopMetrics retry", Err: err}
			}
		}
		if status < 200 || status >= 300 {
			break
		}
		if len(entries) == 0 {
			break
		}
		out = append(out, entries...)
		if len(entries) < pageSize {
			break
		}
		page++
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FetchMetricsBySymbols fetches market data filtered to the given CoinGecko
// coin ids (lowercase symbol ids), a single page.
func (c *Client) FetchMetricsBySymbols(ctx context.Context, ids []string) ([]MarketEntry, error) {
	entries, status, err := c.fetchMarketsPage(ctx, 1, ids)
	if err != nil {
		return nil, &apperrors.TransientNetworkError{Op: "FetchMetricsBySymbols", Err: err}
	}
	if status == http.StatusTooManyRequests {
		time.Sleep(rateLimitSleep)
		entries, status, err = c.fetchMarketsPage(ctx, 1, ids)
		if err != nil {
			return nil, &apperrors.TransientNetworkError{Op: "FetchMetricsBySymbols retry", Err: err}
		}
	}
	if status < 200 || status >= 300 {
		return nil, nil
	}
	return entries, nil
}

func (c *Client) fetchMarketsPage(ctx context.Context, page int, ids []string) ([]MarketEntry, int, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("sparkline", "false")
	if len(ids) > 0 {
		q.Set("ids", strings.Join(ids, ","))
	}

	reqURL := fmt.Sprintf("%s/coins/markets?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	var raw []struct {
		Symbol             string  `json:"symbol"`
		CurrentPrice       float64 `json:"current_price"`
		MarketCap          float64 `json:"market_cap"`
		TotalVolume        float64 `json:"total_volume"`
		CirculatingSupply  float64 `json:"circulating_supply"`
		Image              string  `json:"image"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, resp.StatusCode, &apperrors.ParseError{Op: "fetchMarketsPage", Err: err}
	}

	out := make([]MarketEntry, 0, len(raw))
	for _, r := range raw {
		out = append(out, MarketEntry{
			Symbol:            r.Symbol,
			CurrentPrice:      r.CurrentPrice,
			MarketCap:         r.MarketCap,
			TotalVolume:       r.TotalVolume,
			CirculatingSupply: r.CirculatingSupply,
			Image:             r.Image,
		})
	}
	return out, resp.StatusCode, nil
}
