package refresher

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"perpfutures-ingestor/internal/models"
)

func TestBaseAsset(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT": "BTC",
		"ETHUSDT": "ETH",
		"BNBBUSD": "BNB",
		"SOLUSDT": "SOL",
	}
	for in, want := range cases {
		if got := baseAsset(in); got != want {
			t.Errorf("baseAsset(%q) = %q, want %q", in, got, want)
		}
	}
}

type fakePersister struct {
	symbols []string
	saved   []models.MarketMetrics
}

func (f *fakePersister) ListTrackedSymbols(ctx context.Context) ([]string, error) {
	return f.symbols, nil
}

func (f *fakePersister) SaveMarketMetrics(ctx context.Context, rows []models.MarketMetrics) error {
	f.saved = append(f.saved, rows...)
	return nil
}

func TestRunCycleNoSymbolsIsNoop(t *testing.T) {
	p := &fakePersister{}
	r := New(p, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := r.runCycle(context.Background()); err != nil {
		t.Fatalf("expected nil error on empty symbol set, got %v", err)
	}
	if len(p.saved) != 0 {
		t.Errorf("expected no metrics saved, got %d", len(p.saved))
	}
}
