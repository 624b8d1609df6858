// Command ingestor is the Coordinator (C12): it wires every other component
// into one process — database, universe seeding, the hourly refresher, the
// WS multiplexer, the batch writer, and the strategy cycle — and drives an
// orderly startup and shutdown. Grounded on
// original_source/services/ingestion-service/main.py's top-level main(),
// generalized from the teacher's single-symbol cmd/bot/main.go WS-driven
// loop shape to the multi-symbol, multi-component process spec §4.12
// describes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"perpfutures-ingestor/config"
	"perpfutures-ingestor/internal/batch"
	"perpfutures-ingestor/internal/database"
	"perpfutures-ingestor/internal/decimalx"
	"perpfutures-ingestor/internal/eventbus"
	"perpfutures-ingestor/internal/exchange"
	"perpfutures-ingestor/internal/market"
	"perpfutures-ingestor/internal/metrics"
	"perpfutures-ingestor/internal/models"
	"perpfutures-ingestor/internal/refresher"
	"perpfutures-ingestor/internal/strategy/engine"
	"perpfutures-ingestor/internal/universe"
	"perpfutures-ingestor/pkg"
)

// universeResyncInterval governs spec §4.12 step 5's periodic reshard check.
// The original backfill loop re-evaluated the universe once per ingestion
// cycle at roughly one-minute cadence; "every 10 ingestion cycles" has no
// literal duration in original_source once that REST polling loop is
// replaced by a continuous WS stream, so 10 minutes is the chosen concrete
// interval (10x that cycle length) — documented as a SPEC_FULL.md design
// decision in DESIGN.md, not derived from original_source directly.
const universeResyncInterval = 10 * time.Minute

// strategyCycleInterval is how often the swing/fib/confluence/alert
// pipeline (C8-C11) re-runs. Chosen to match the default working timeframe's
// granularity (15m candles close often enough that a faster cycle would
// mostly recompute the same swings); also a SPEC_FULL.md design decision,
// not an original_source value.
const strategyCycleInterval = 15 * time.Minute

// metricsLogInterval mirrors original_source's log_metrics_periodically.
const metricsLogInterval = 5 * time.Minute

func main() {
	logger := pkg.SetupLogger()
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Error("coordinator: database init failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	exchangeClient := exchange.NewClient(cfg.Binance.APIKey, cfg.Binance.APISecret)
	metricsClient := metrics.NewClient(cfg.CoinGecko.APIURL)
	selector := universe.NewSelector(exchangeClient, metricsClient, cfg.Ingestion.SymbolLimit, logger)
	publisher := newPublisher(ctx, cfg, logger)

	if err := seedMarketData(ctx, db, exchangeClient, metricsClient, cfg, logger); err != nil {
		logger.Warn("coordinator: initial market metrics seed failed", "error", err)
	}

	var wg sync.WaitGroup

	refresherTask := refresher.New(db, exchangeClient, metricsClient, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		refresherTask.Run(ctx)
	}()

	symbols := activeUniverse(ctx, db, selector, cfg, logger)
	if len(symbols) == 0 {
		logger.Error("coordinator: no active universe available at startup, exiting")
		stop()
		wg.Wait()
		return
	}
	timeframes := ingestionTimeframes(ctx, db, cfg, logger)
	logger.Info("coordinator: starting ingestion", "symbols", len(symbols), "timeframes", timeframes)

	wsMetrics := market.NewMetrics()
	writer := batch.NewWriter(db, publisher, wsMetrics, logger, cfg.Ingestion.WSBatchSize, cfg.Ingestion.WSBatchTimeout)
	wg.Add(1)
	go func() {
		defer wg.Done()
		writer.Run(ctx)
	}()

	klineCh := make(chan models.Candle, 4096)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for c := range klineCh {
			writer.Add(ctx, c)
		}
	}()

	universeState := newUniverseState(symbols, timeframes)

	wg.Add(1)
	go func() {
		defer wg.Done()
		runMultiplexerLoop(ctx, cfg, universeState, logger, wsMetrics, klineCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runUniverseResync(ctx, db, selector, cfg, logger, universeState)
	}()

	strategyEngine := engine.New(persisterAdapter{db}, engine.DefaultConfig(cfg.Ingestion.DefaultTimeframe), logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		strategyEngine.Run(ctx, strategyCycleInterval, universeState.symbols)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logMetricsPeriodically(ctx, wsMetrics, logger)
	}()

	<-ctx.Done()
	logger.Info("coordinator: shutdown signal received, draining")

	close(klineCh)
	wg.Wait()
	logger.Info("coordinator: shutdown complete")
}

// newPublisher constructs an SQS-backed Publisher when an event bus queue
// URL is configured, falling back to a no-op sink otherwise — the ingestion
// engine must run in environments with no event bus wired at all.
func newPublisher(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) eventbus.Publisher {
	if cfg.AWS.EventBusQueURL == "" {
		logger.Warn("coordinator: EVENT_BUS_QUEUE_URL not set, publishing is a no-op")
		return eventbus.NoopPublisher{}
	}
	pub, err := eventbus.NewSQSPublisher(ctx, cfg.AWS.Region, cfg.AWS.EventBusQueURL, logger)
	if err != nil {
		logger.Warn("coordinator: could not construct SQS publisher, falling back to no-op", "error", err)
		return eventbus.NoopPublisher{}
	}
	return pub
}

// seedMarketData runs the CoinGecko top-market-cap pull filtered to Binance
// perpetuals and persists it to market_data, the prerequisite ListQualifiedSymbols
// needs before it can return anything. Grounded on original_source's
// ingest_top_market_metrics.
func seedMarketData(ctx context.Context, db *database.PostgresDB, exchangeClient *exchange.Client, metricsClient *metrics.Client, cfg *config.AppConfig, logger *slog.Logger) error {
	perpetuals, err := exchangeClient.FetchExchangeInfo(ctx)
	if err != nil {
		return err
	}
	perpSet := make(map[string]bool, len(perpetuals))
	for _, p := range perpetuals {
		perpSet[p.Symbol] = true
	}

	entries, err := metricsClient.FetchTopMetrics(ctx, cfg.Ingestion.MarketDataLimit)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var rows []models.MarketMetrics
	for _, e := range entries {
		symbol := strings.ToUpper(e.Symbol) + "USDT"
		if len(perpSet) > 0 && !perpSet[symbol] {
			continue
		}
		if cfg.Ingestion.CoinGeckoMinMarketCap > 0 && e.MarketCap < cfg.Ingestion.CoinGeckoMinMarketCap {
			continue
		}
		if cfg.Ingestion.CoinGeckoMinVolume24h > 0 && e.TotalVolume < cfg.Ingestion.CoinGeckoMinVolume24h {
			continue
		}

		row := models.MarketMetrics{Symbol: symbol, Timestamp: now}
		row.MarketCap, row.HasMarketCap = decimalx.ToDecimal(e.MarketCap)
		row.Volume24h, row.HasVolume24h = decimalx.ToDecimal(e.TotalVolume)
		row.CirculatingSupply = decimalx.ToDecimalSafe(e.CirculatingSupply, row.CirculatingSupply)
		row.Price = decimalx.ToDecimalSafe(e.CurrentPrice, row.Price)
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		logger.Warn("coordinator: no market metrics entries survived filtering, nothing seeded")
		return nil
	}
	if err := db.SaveMarketMetrics(ctx, rows); err != nil {
		return err
	}
	logger.Info("coordinator: seeded market metrics", "symbols", len(rows))
	return nil
}

// activeUniverse reads the qualified-symbols universe the seeding step just
// populated, falling back to a fresh Selector.Select and finally to the
// compiled-in defaults if the database has nothing yet.
func activeUniverse(ctx context.Context, db *database.PostgresDB, selector *universe.Selector, cfg *config.AppConfig, logger *slog.Logger) []string {
	qualified, err := db.ListQualifiedSymbols(ctx)
	if err != nil {
		logger.Warn("coordinator: could not read qualified symbols", "error", err)
	}
	if len(qualified) > 0 {
		return qualified
	}

	logger.Warn("coordinator: no qualified symbols in database, running universe selection directly")
	selected, err := selector.Select(ctx)
	if err != nil {
		logger.Warn("coordinator: universe selection failed, falling back to default symbols", "error", err)
		return cfg.Ingestion.DefaultSymbols
	}
	if len(selected) == 0 {
		return cfg.Ingestion.DefaultSymbols
	}
	return selected
}

// ingestionTimeframes reads every registered timeframe from the database,
// falling back to the configured default when the schema has none seeded.
func ingestionTimeframes(ctx context.Context, db *database.PostgresDB, cfg *config.AppConfig, logger *slog.Logger) []string {
	rows, err := db.ListTimeframesAscBySeconds(ctx)
	if err != nil {
		logger.Warn("coordinator: could not list timeframes, using default", "error", err)
		return []string{cfg.Ingestion.DefaultTimeframe}
	}
	if len(rows) == 0 {
		return []string{cfg.Ingestion.DefaultTimeframe}
	}
	out := make([]string, 0, len(rows))
	for _, tf := range rows {
		out = append(out, tf.Name)
	}
	return out
}

// universeState holds the active symbol/timeframe sets under a mutex so the
// multiplexer-reshard loop and the strategy cycle can read a consistent
// snapshot while the resync loop mutates it concurrently.
type universeState struct {
	mu         sync.RWMutex
	symbolSet  []string
	timeframes []string
	generation int
}

func newUniverseState(symbols, timeframes []string) *universeState {
	return &universeState{symbolSet: symbols, timeframes: timeframes}
}

func (u *universeState) snapshot() ([]string, []string, int) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.symbolSet, u.timeframes, u.generation
}

func (u *universeState) symbols() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.symbolSet
}

// update replaces the active symbol set if it changed, bumping generation so
// the multiplexer loop knows to reshard. Returns true if it changed.
func (u *universeState) update(symbols []string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if sameSet(u.symbolSet, symbols) {
		return false
	}
	u.symbolSet = symbols
	u.generation++
	return true
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			return false
		}
	}
	return true
}

// runMultiplexerLoop (re)starts the WS Multiplexer under a cancellable
// sub-context whenever universeState's generation advances, so a reshard
// never has to restart the whole process.
func runMultiplexerLoop(ctx context.Context, cfg *config.AppConfig, state *universeState, logger *slog.Logger, wsMetrics *market.Metrics, klineCh chan<- models.Candle) {
	lastGeneration := -1
	var shardCancel context.CancelFunc
	var shardDone chan struct{}

	stopShard := func() {
		if shardCancel == nil {
			return
		}
		shardCancel()
		<-shardDone
		shardCancel = nil
	}
	defer stopShard()

	for {
		symbols, timeframes, generation := state.snapshot()
		if generation != lastGeneration {
			stopShard()

			mctx, cancel := context.WithCancel(ctx)
			mux, err := market.NewMultiplexer(market.Config{
				MaxReconnectDelay: cfg.Ingestion.WSMaxReconnectDelay,
				PingInterval:      cfg.Ingestion.WSPingInterval,
				PingTimeout:       cfg.Ingestion.WSPingTimeout,
			}, symbols, timeframes, logger, wsMetrics, klineCh)
			if err != nil {
				logger.Error("coordinator: could not build multiplexer, retrying shortly", "error", err)
				cancel()
				if !sleepOrDone(ctx, 30*time.Second) {
					return
				}
				continue
			}

			shardCancel = cancel
			shardDone = make(chan struct{})
			lastGeneration = generation
			go func() {
				defer close(shardDone)
				mux.Run(mctx)
			}()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// runUniverseResync re-derives the active universe on a fixed cadence (spec
// §4.12 step 5) and pushes any change into state for the multiplexer loop
// to pick up.
func runUniverseResync(ctx context.Context, db *database.PostgresDB, selector *universe.Selector, cfg *config.AppConfig, logger *slog.Logger, state *universeState) {
	ticker := time.NewTicker(universeResyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		symbols := activeUniverse(ctx, db, selector, cfg, logger)
		if len(symbols) == 0 {
			continue
		}
		if state.update(symbols) {
			logger.Info("coordinator: active universe changed, resharding multiplexer", "symbols", len(symbols))
		}
	}
}

func logMetricsPeriodically(ctx context.Context, wsMetrics *market.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(metricsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap := wsMetrics.Snapshot()
		logger.Info("coordinator: ws metrics",
			"messages_received", snap.MessagesReceived,
			"parse_errors", snap.ParseErrors,
			"reconnect_count", snap.ReconnectCount,
			"is_connected", snap.IsConnected,
			"batch_buffer_size", snap.BatchBufferSize,
			"total_batches_flushed", snap.TotalBatchesFlushed,
			"total_candles_batched", snap.TotalCandlesBatched,
		)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// persisterAdapter satisfies engine.Persister on top of *database.PostgresDB,
// translating database.TimeframeRow into engine.TimeframeRow — the strategy
// engine deliberately doesn't import internal/database so it stays testable
// against a fake, which means the two TimeframeRow types are nominally
// distinct even though structurally identical.
type persisterAdapter struct {
	db *database.PostgresDB
}

func (p persisterAdapter) ListTimeframesAscBySeconds(ctx context.Context) ([]engine.TimeframeRow, error) {
	rows, err := p.db.ListTimeframesAscBySeconds(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.TimeframeRow, len(rows))
	for i, r := range rows {
		out[i] = engine.TimeframeRow{Name: r.Name, Seconds: r.Seconds}
	}
	return out, nil
}

func (p persisterAdapter) ListRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return p.db.ListRecentCandles(ctx, symbol, timeframe, limit)
}

func (p persisterAdapter) SaveSwingPoints(ctx context.Context, symbol, timeframe string, points []models.SwingPoint) error {
	return p.db.SaveSwingPoints(ctx, symbol, timeframe, points)
}

func (p persisterAdapter) SaveAlert(ctx context.Context, a models.Alert) error {
	return p.db.SaveAlert(ctx, a)
}
