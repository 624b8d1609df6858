// Package refresher is the Hourly Refresher (C7): a background loop that
// re-pulls market metrics once per hour for every symbol the ingestion
// engine already tracks, preferring Binance's own 24h ticker for price and
// volume over CoinGecko's slower-moving numbers. Grounded on
// original_source/services/ingestion-service/main.py's
// hourly_market_data_update and BinanceMarketDataService.save_market_metrics.
package refresher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/decimalx"
	"perpfutures-ingestor/internal/exchange"
	"perpfutures-ingestor/internal/metrics"
	"perpfutures-ingestor/internal/models"
)

var decimalZero = decimal.Zero

// Persister is the subset of the Persistence Gateway the refresher needs.
type Persister interface {
	ListTrackedSymbols(ctx context.Context) ([]string, error)
	SaveMarketMetrics(ctx context.Context, rows []models.MarketMetrics) error
}

const (
	interval    = time.Hour
	retryDelay  = 60 * time.Second
)

type Refresher struct {
	persister      Persister
	exchangeClient *exchange.Client
	metricsClient  *metrics.Client
	logger         *slog.Logger
}

func New(persister Persister, exchangeClient *exchange.Client, metricsClient *metrics.Client, logger *slog.Logger) *Refresher {
	return &Refresher{persister: persister, exchangeClient: exchangeClient, metricsClient: metricsClient, logger: logger}
}

// Run sleeps an hour, refreshes every tracked symbol's metrics, and repeats
// until ctx is cancelled. A failed cycle is retried after 60s rather than
// waiting out the full hour, matching the original's "sleep 1m and loop"
// error path.
func (r *Refresher) Run(ctx context.Context) {
	r.logger.Info("refresher: hourly market data update task started")
	wait := interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := r.runCycle(ctx); err != nil {
			r.logger.Error("refresher: cycle failed, retrying in 60s", "error", err)
			wait = retryDelay
			continue
		}
		wait = interval
	}
}

func (r *Refresher) runCycle(ctx context.Context) error {
	start := time.Now()

	symbols, err := r.persister.ListTrackedSymbols(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		r.logger.Warn("refresher: no symbols found for hourly market data update")
		return nil
	}

	r.logger.Info("refresher: starting hourly market data update", "symbols", len(symbols))

	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		ids = append(ids, strings.ToLower(baseAsset(s)))
	}

	entries, err := r.metricsClient.FetchMetricsBySymbols(ctx, ids)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		r.logger.Warn("refresher: no market metrics returned from metrics provider")
		return nil
	}

	tickers, err := r.exchangeClient.FetchAllTickers24h(ctx)
	if err != nil {
		r.logger.Warn("refresher: could not fetch exchange tickers, using metrics-only data", "error", err)
		tickers = nil
	}

	now := time.Now().UTC()
	rows := make([]models.MarketMetrics, 0, len(entries))
	for _, e := range entries {
		symbol := strings.ToUpper(e.Symbol) + "USDT"

		row := models.MarketMetrics{
			Symbol:            symbol,
			Timestamp:         now,
			CirculatingSupply: decimalx.ToDecimalSafe(e.CirculatingSupply, decimalZero),
		}
		row.MarketCap, row.HasMarketCap = decimalx.ToDecimal(e.MarketCap)
		row.Volume24h, row.HasVolume24h = decimalx.ToDecimal(e.TotalVolume)
		row.Price = decimalx.ToDecimalSafe(e.CurrentPrice, decimalZero)

		if t, ok := tickers[symbol]; ok {
			row.Price = t.LastPrice
			row.Volume24h = t.QuoteVolume
			row.HasVolume24h = true
		}

		rows = append(rows, row)
	}

	if err := r.persister.SaveMarketMetrics(ctx, rows); err != nil {
		return err
	}

	duration := time.Since(start)
	rate := float64(len(symbols)) / duration.Seconds()
	r.logger.Info("refresher: hourly market data update completed",
		"symbols", len(symbols), "duration_s", duration.Seconds(), "symbols_per_sec", rate)
	return nil
}

func baseAsset(symbol string) string {
	base := strings.TrimSuffix(symbol, "USDT")
	if base == symbol {
		base = strings.TrimSuffix(symbol, "BUSD")
	}
	return base
}
