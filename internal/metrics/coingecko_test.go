package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func entryJSON(symbol string, marketCap float64) map[string]any {
	return map[string]any{
		"symbol":             symbol,
		"current_price":      1.23,
		"market_cap":         marketCap,
		"total_volume":       1000.0,
		"circulating_supply": 5000.0,
		"image":              "https://example.com/" + symbol + ".png",
	}
}

func TestFetchTopMetricsSinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if page != "1" {
			t.Errorf("unexpected page %q", page)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			entryJSON("btc", 1_000_000),
			entryJSON("eth", 500_000),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	entries, err := c.FetchTopMetrics(t.Context(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Symbol != "btc" || entries[0].MarketCap != 1_000_000 {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
}

func TestFetchTopMetricsTrimsToLimit(t *testing.T) {
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		rows := make([]map[string]any, pageSize)
		for i := range rows {
			rows[i] = entryJSON("coin", float64(i))
		}
		json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	entries, err := c.FetchTopMetrics(t.Context(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("expected trimmed to 10 entries, got %d", len(entries))
	}
	if callCount != 1 {
		t.Errorf("expected exactly one page fetched since first page already satisfies limit, got %d calls", callCount)
	}
}

func TestFetchTopMetricsRetriesOnceOn429(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{entryJSON("btc", 1)})
	}))
	defer srv.Close()

	original := rateLimitSleep
	rateLimitSleep = time.Millisecond
	defer func() { rateLimitSleep = original }()

	c := NewClient(srv.URL)
	_, err := c.FetchTopMetrics(t.Context(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected exactly one retry after 429 (2 total attempts), got %d", attempts)
	}
}
