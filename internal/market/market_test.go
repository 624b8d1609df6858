package market

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jpillora/backoff"

	"perpfutures-ingestor/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseKlineMessageSingleStream(t *testing.T) {
	raw := []byte(`{"e":"kline","E":123456789,"s":"BTCUSDT","k":{"t":1690000000000,"T":1690000059999,"s":"BTCUSDT","i":"1m","o":"100.00","c":"101.50","h":"102.00","l":"99.00","v":"10.5","x":true}}`)

	c, err := ParseKlineMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Symbol != "BTCUSDT" || c.Timeframe != "1m" || !c.IsClosed {
		t.Errorf("unexpected candle: %+v", c)
	}
	if !c.High.GreaterThanOrEqual(c.Low) {
		t.Errorf("high < low: %+v", c)
	}
}

func TestParseKlineMessageMultiStream(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","E":1,"s":"BTCUSDT","k":{"t":1690000000000,"T":1690000059999,"s":"BTCUSDT","i":"1m","o":"100","c":"101","h":"102","l":"99","v":"5","x":false}}}`)

	c, err := ParseKlineMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.IsClosed {
		t.Error("expected in-progress candle")
	}
}

func TestParseKlineMessageRejectsBadOHLC(t *testing.T) {
	raw := []byte(`{"e":"kline","E":1,"s":"BTCUSDT","k":{"t":1,"T":2,"s":"BTCUSDT","i":"1m","o":"100","c":"101","h":"50","l":"99","v":"5","x":true}}`)
	if _, err := ParseKlineMessage(raw); err == nil {
		t.Error("expected validation error for high < low-consistent OHLC")
	}
}

func TestParseKlineMessageIgnoresNonKline(t *testing.T) {
	raw := []byte(`{"e":"aggTrade","E":1,"s":"BTCUSDT"}`)
	if _, err := ParseKlineMessage(raw); err == nil {
		t.Error("expected error for non-kline event")
	}
}

func TestBuildURLSingleStream(t *testing.T) {
	url := buildURL("wss://fstream.binance.com", []string{"btcusdt@kline_1m"})
	want := "wss://fstream.binance.com/ws/btcusdt@kline_1m"
	if url != want {
		t.Errorf("got %s, want %s", url, want)
	}
}

func TestBuildURLMultiStream(t *testing.T) {
	url := buildURL("wss://fstream.binance.com", []string{"btcusdt@kline_1m", "ethusdt@kline_1m"})
	want := "wss://fstream.binance.com/stream?streams=btcusdt@kline_1m/ethusdt@kline_1m"
	if url != want {
		t.Errorf("got %s, want %s", url, want)
	}
}

func TestNewMultiplexerShardsBeyond200Streams(t *testing.T) {
	symbols := make([]string, 41)
	for i := range symbols {
		symbols[i] = "SYM" + string(rune('A'+i))
	}
	timeframes := []string{"1m", "5m", "15m", "1h", "4h"} // 41*5 = 205 streams

	out := make(chan models.Candle, 1)
	m, err := NewMultiplexer(Config{}, symbols, timeframes, testLogger(), NewMetrics(), out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.shards) != 2 {
		t.Errorf("expected 2 shards for 205 streams, got %d", len(m.shards))
	}
}

func TestNewMultiplexerRejectsUnknownTimeframe(t *testing.T) {
	out := make(chan models.Candle, 1)
	_, err := NewMultiplexer(Config{}, []string{"BTCUSDT"}, []string{"17m"}, testLogger(), NewMetrics(), out)
	if err == nil {
		t.Error("expected error for unsupported timeframe")
	}
}

func TestReconnectBackoffSequence(t *testing.T) {
	b := &backoff.Backoff{Min: 1 * time.Second, Max: 60 * time.Second, Factor: 2}
	want := []time.Duration{1, 2, 4, 8, 16, 32}
	for _, w := range want {
		got := b.Duration()
		if got != w*time.Second {
			t.Errorf("got %v, want %v", got, w*time.Second)
		}
	}
}
