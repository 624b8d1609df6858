package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/models"
)

type fakePersister struct {
	timeframes []TimeframeRow
	timeframesErr error

	candles    map[string][]models.Candle
	candlesErr map[string]error

	savedSwings map[string]int
	savedAlerts int
}

func (f *fakePersister) ListTimeframesAscBySeconds(ctx context.Context) ([]TimeframeRow, error) {
	return f.timeframes, f.timeframesErr
}

func (f *fakePersister) ListRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if err, ok := f.candlesErr[symbol]; ok {
		return nil, err
	}
	return f.candles[symbol+"/"+timeframe], nil
}

func (f *fakePersister) SaveSwingPoints(ctx context.Context, symbol, timeframe string, points []models.SwingPoint) error {
	if f.savedSwings == nil {
		f.savedSwings = make(map[string]int)
	}
	f.savedSwings[symbol] += len(points)
	return nil
}

func (f *fakePersister) SaveAlert(ctx context.Context, a models.Alert) error {
	f.savedAlerts++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPruningRateFallsBackToDefault(t *testing.T) {
	cfg := DefaultConfig("15m")
	cfg.DefaultPruning = decimal.NewFromFloat(0.05)
	cfg.PruningRates = map[string]decimal.Decimal{"ETH": decimal.NewFromFloat(0.1)}

	if got := cfg.pruningRate("BTC"); !got.Equal(cfg.DefaultPruning) {
		t.Errorf("pruningRate(BTC) = %s, want default %s", got, cfg.DefaultPruning)
	}
	if got := cfg.pruningRate("ETH"); !got.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("pruningRate(ETH) = %s, want override 0.1", got)
	}
}

func TestBaseAssetOf(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT": "BTC",
		"ETHBUSD": "ETH",
		"SOLUSDT": "SOL",
	}
	for in, want := range cases {
		if got := baseAssetOf(in); got != want {
			t.Errorf("baseAssetOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunCycleReturnsEarlyOnTimeframeListError(t *testing.T) {
	p := &fakePersister{timeframesErr: errors.New("db down")}
	e := New(p, DefaultConfig("15m"), testLogger())

	e.RunCycle(context.Background(), []string{"BTCUSDT"})

	if p.savedAlerts != 0 || len(p.savedSwings) != 0 {
		t.Error("expected no persistence calls when timeframe listing fails")
	}
}

func TestRunCycleReturnsEarlyWhenWorkingTimeframeUnregistered(t *testing.T) {
	p := &fakePersister{
		timeframes: []TimeframeRow{{Name: "1h", Seconds: 3600}},
	}
	e := New(p, DefaultConfig("15m"), testLogger())

	e.RunCycle(context.Background(), []string{"BTCUSDT"})

	if p.savedAlerts != 0 || len(p.savedSwings) != 0 {
		t.Error("expected no persistence calls when the working timeframe isn't registered")
	}
}

func TestRunCycleSkipsSymbolWithTooFewCandles(t *testing.T) {
	p := &fakePersister{
		timeframes: []TimeframeRow{{Name: "15m", Seconds: 900}, {Name: "1h", Seconds: 3600}},
		candles:    map[string][]models.Candle{"BTCUSDT/15m": make([]models.Candle, 3)},
	}
	e := New(p, DefaultConfig("15m"), testLogger())

	e.RunCycle(context.Background(), []string{"BTCUSDT"})

	if p.savedAlerts != 0 || p.savedSwings["BTCUSDT"] != 0 {
		t.Error("expected no swings/alerts saved for a too-short candle window")
	}
}

func TestRunCycleIsolatesPerSymbolFailures(t *testing.T) {
	p := &fakePersister{
		timeframes: []TimeframeRow{{Name: "15m", Seconds: 900}},
		candlesErr: map[string]error{"BADUSDT": errors.New("fetch failed")},
		candles:    map[string][]models.Candle{"BTCUSDT/15m": make([]models.Candle, 2)},
	}
	e := New(p, DefaultConfig("15m"), testLogger())

	// Neither symbol produces swings (too few/erroring candles), but the
	// call must not panic or stop processing BTCUSDT after BADUSDT fails.
	e.RunCycle(context.Background(), []string{"BADUSDT", "BTCUSDT"})

	if p.savedAlerts != 0 {
		t.Error("expected no alerts from either symbol in this fixture")
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	p := &fakePersister{timeframesErr: errors.New("unused")}
	e := New(p, DefaultConfig("15m"), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, time.Hour, func() []string { return nil })
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}
