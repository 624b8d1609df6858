// Package engine is the strategy-cycle orchestrator wiring the swing
// detector (C8), Fibonacci calculator (C9), confluence confirmer (C10), and
// alert generator (C11) into the single analytics path the data-flow
// diagram in spec §2 names: C2 → C8 → C9 → C10 → C11 → C2. It runs
// periodically (the coordinator schedules it the same way it schedules the
// hourly refresher) rather than per-event, since swing/fib/confluence
// analysis is only meaningful over a full candle window, not one bar at a
// time.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/models"
	"perpfutures-ingestor/internal/strategy/alerts"
	"perpfutures-ingestor/internal/strategy/confluence"
	"perpfutures-ingestor/internal/strategy/fibonacci"
	"perpfutures-ingestor/internal/strategy/zigzag"
)

// Persister is the subset of the Persistence Gateway the strategy cycle
// needs: candle history in, swing points and alerts out.
type Persister interface {
	ListTimeframesAscBySeconds(ctx context.Context) ([]TimeframeRow, error)
	ListRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	SaveSwingPoints(ctx context.Context, symbol, timeframe string, points []models.SwingPoint) error
	SaveAlert(ctx context.Context, a models.Alert) error
}

// TimeframeRow mirrors database.TimeframeRow so this package doesn't import
// database directly (engine sits below database's consumers, not beside
// it).
type TimeframeRow struct {
	Name    string
	Seconds int64
}

// Config bundles every tunable the strategy cycle needs beyond what it
// reads from the database. Fibonacci levels default to the values spec §8's
// worked examples use; Epsilon and the S/R window default to values the
// spec leaves unconfigured.
type Config struct {
	WorkingTimeframe string
	CandleWindow     int

	ZigZag            zigzag.Params
	FibLevels         fibonacci.Levels
	ConfluenceEpsilon decimal.Decimal
	SRBefore, SRAfter int

	AlertLevels    alerts.FibLevels
	PruningRates   map[string]decimal.Decimal
	DefaultPruning decimal.Decimal
}

// DefaultConfig mirrors the spec's worked examples: bullish_fib_level_lower
// 0.618, bearish_fib_level 0.5, tp1/2/3 0.786/1.0/1.272, a 0.5% confluence
// tolerance, and a 5-bar support/resistance window.
func DefaultConfig(workingTimeframe string) Config {
	return Config{
		WorkingTimeframe: workingTimeframe,
		CandleWindow:     500,
		ZigZag:           zigzag.DefaultParams(),
		FibLevels: fibonacci.Levels{
			BullishLower: decimal.NewFromFloat(0.618),
			Bearish:      decimal.NewFromFloat(0.5),
		},
		ConfluenceEpsilon: decimal.NewFromFloat(0.005),
		SRBefore:          5,
		SRAfter:           5,
		AlertLevels: alerts.FibLevels{
			BullishSL: decimal.Zero,
			BearishSL: decimal.Zero,
			TP1:       decimal.NewFromFloat(0.786),
			TP2:       decimal.NewFromFloat(1.0),
			TP3:       decimal.NewFromFloat(1.272),
		},
		DefaultPruning: decimal.NewFromFloat(0.03),
	}
}

// pruningRate resolves the per-asset swing_pruning_rate(asset) override
// named in spec §4.11 step 2, falling back to DefaultPruning when the asset
// has no entry — grounded on original_source's
// StrategyConfig.get_pruning_score per-symbol map with a fallback default.
func (c Config) pruningRate(asset string) decimal.Decimal {
	if r, ok := c.PruningRates[asset]; ok {
		return r
	}
	return c.DefaultPruning
}

type Engine struct {
	persister Persister
	cfg       Config
	logger    *slog.Logger
}

func New(persister Persister, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{persister: persister, cfg: cfg, logger: logger}
}

// Run ticks every interval and runs one cycle over symbols() until ctx is
// cancelled, mirroring the refresher's sleep-then-run loop shape.
func (e *Engine) Run(ctx context.Context, interval time.Duration, symbols func() []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunCycle(ctx, symbols())
		}
	}
}

// RunCycle runs the C8→C9→C10→C11 pipeline once for every symbol, isolating
// per-symbol failures so one bad symbol never aborts the cycle (spec §7's
// error-isolation policy).
func (e *Engine) RunCycle(ctx context.Context, symbols []string) {
	timeframes, err := e.persister.ListTimeframesAscBySeconds(ctx)
	if err != nil {
		e.logger.Error("engine: could not list timeframes", "error", err)
		return
	}

	workingSeconds := int64(-1)
	for _, tf := range timeframes {
		if tf.Name == e.cfg.WorkingTimeframe {
			workingSeconds = tf.Seconds
		}
	}
	if workingSeconds < 0 {
		e.logger.Error("engine: working timeframe not registered", "timeframe", e.cfg.WorkingTimeframe)
		return
	}

	var higherTimeframes []TimeframeRow
	for i := len(timeframes) - 1; i >= 0; i-- {
		if timeframes[i].Seconds > workingSeconds {
			higherTimeframes = append(higherTimeframes, timeframes[i])
		}
	}

	succeeded, failed := 0, 0
	for _, symbol := range symbols {
		if err := e.runSymbol(ctx, symbol, higherTimeframes); err != nil {
			e.logger.Warn("engine: cycle failed for symbol", "symbol", symbol, "error", err)
			failed++
			continue
		}
		succeeded++
	}
	e.logger.Info("engine: strategy cycle completed", "symbols", len(symbols), "ok", succeeded, "failed", failed)
}

func (e *Engine) runSymbol(ctx context.Context, symbol string, higherTimeframes []TimeframeRow) error {
	candles, err := e.persister.ListRecentCandles(ctx, symbol, e.cfg.WorkingTimeframe, e.cfg.CandleWindow)
	if err != nil {
		return err
	}

	swingHighs, swingLows := zigzag.Points(candles, e.cfg.ZigZag)
	if len(swingHighs) == 0 && len(swingLows) == 0 {
		return nil
	}

	if err := e.persister.SaveSwingPoints(ctx, symbol, e.cfg.WorkingTimeframe, swingPointsOf(symbol, e.cfg.WorkingTimeframe, swingHighs, swingLows, e.cfg.ZigZag.Depth)); err != nil {
		return err
	}

	fibs := fibonacci.Calculate(swingHighs, swingLows, e.cfg.WorkingTimeframe, e.cfg.FibLevels)
	if len(fibs) == 0 {
		return nil
	}

	htfData, err := e.higherTimeframeData(ctx, symbol, higherTimeframes)
	if err != nil {
		return err
	}

	pruningRate := e.cfg.pruningRate(baseAssetOf(symbol))
	for _, fib := range fibs {
		confirmed := confluence.Confirm(fib, htfData, e.cfg.ConfluenceEpsilon)
		alert, ok := alerts.Generate(symbol, confirmed, pruningRate, e.cfg.AlertLevels)
		if !ok {
			continue
		}
		if err := e.persister.SaveAlert(ctx, alert); err != nil {
			return err
		}
	}
	return nil
}

// higherTimeframeData builds the S/R and swing reference sets the
// confluence confirmer matches against, ordered highest-timeframe-first per
// spec §4.10.
func (e *Engine) higherTimeframeData(ctx context.Context, symbol string, higherTimeframes []TimeframeRow) ([]confluence.HigherTimeframeData, error) {
	var out []confluence.HigherTimeframeData
	for _, tf := range higherTimeframes {
		candles, err := e.persister.ListRecentCandles(ctx, symbol, tf.Name, e.cfg.CandleWindow)
		if err != nil {
			return nil, err
		}
		if len(candles) == 0 {
			continue
		}

		supports, resistances := confluence.ScanLevels(candles, e.cfg.SRBefore, e.cfg.SRAfter, true)
		swingHighs, swingLows := zigzag.Points(candles, e.cfg.ZigZag)

		out = append(out, confluence.HigherTimeframeData{
			Timeframe:   tf.Name,
			Supports:    supports,
			Resistances: resistances,
			SwingHighs:  swingHighs,
			SwingLows:   swingLows,
		})
	}
	return out, nil
}

func swingPointsOf(symbol, timeframe string, highs, lows []models.SwingRef, strength int) []models.SwingPoint {
	points := make([]models.SwingPoint, 0, len(highs)+len(lows))
	for _, h := range highs {
		points = append(points, models.SwingPoint{Symbol: symbol, Timeframe: timeframe, Timestamp: h.Timestamp, Price: h.Price, Type: models.SwingHigh, Strength: strength})
	}
	for _, l := range lows {
		points = append(points, models.SwingPoint{Symbol: symbol, Timeframe: timeframe, Timestamp: l.Timestamp, Price: l.Price, Type: models.SwingLow, Strength: strength})
	}
	return points
}

func baseAssetOf(symbol string) string {
	base := strings.TrimSuffix(symbol, "USDT")
	if base == symbol {
		base = strings.TrimSuffix(symbol, "BUSD")
	}
	return base
}
