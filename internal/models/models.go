// Package models holds the shared domain entities described in the data
// model: symbols, timeframes, candles, derived swings, Fibonacci results,
// and alerts.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is a tradable instrument, lazily created on first observation.
type Symbol struct {
	ID         int64
	Name       string
	BaseAsset  string
	QuoteAsset string
	ImagePath  string
	UpdatedAt  time.Time
}

// Timeframe is a named bar interval; Seconds defines the canonical
// higher-to-lower ordering used by the confluence confirmer.
type Timeframe struct {
	ID      int64
	Name    string
	Seconds int64
}

// Candle is one OHLCV bar for a (symbol, timeframe, open_time).
type Candle struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	IsClosed  bool
}

// Valid reports whether the candle satisfies the OHLC invariants from §3:
// open,high,low,close > 0, high >= max(open,close), low <= min(open,close).
func (c Candle) Valid() bool {
	zero := decimal.Zero
	if c.Open.LessThanOrEqual(zero) || c.High.LessThanOrEqual(zero) ||
		c.Low.LessThanOrEqual(zero) || c.Close.LessThanOrEqual(zero) {
		return false
	}
	maxOC := decimal.Max(c.Open, c.Close)
	minOC := decimal.Min(c.Open, c.Close)
	if c.High.LessThan(maxOC) || c.Low.GreaterThan(minOC) || c.High.LessThan(c.Low) {
		return false
	}
	return true
}

// MarketMetrics is an hourly market-cap/volume/price snapshot for a symbol.
type MarketMetrics struct {
	Symbol             string
	Timestamp          time.Time
	MarketCap          decimal.Decimal
	Volume24h          decimal.Decimal
	CirculatingSupply  decimal.Decimal
	Price              decimal.Decimal
	HasMarketCap       bool
	HasVolume24h       bool
}

// SwingPointType distinguishes swing highs from lows.
type SwingPointType string

const (
	SwingHigh SwingPointType = "swing_high"
	SwingLow  SwingPointType = "swing_low"
)

// SwingPoint is a derived local-extreme price point used to anchor Fibonacci
// and confluence analysis.
type SwingPoint struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Price     decimal.Decimal
	Type      SwingPointType
	Strength  int
}

// FibType distinguishes the bullish-extension from the bearish-retracement
// Fibonacci level.
type FibType string

const (
	FibBull FibType = "bull"
	FibBear FibType = "bear"
)

// SwingRef pairs a timestamp with a price, mirroring the source's
// (timestamp, price) swing tuples.
type SwingRef struct {
	Timestamp time.Time
	Price     decimal.Decimal
}

// FibResult is an in-memory candidate Fibonacci level derived from a paired
// swing low/high.
type FibResult struct {
	Timeframe string
	SwingLow  SwingRef
	SwingHigh SwingRef
	FibLevel  decimal.Decimal
	FibType   FibType
}

// ConfluenceMark is the qualitative confluence grade derived from
// ConfluenceCount.
type ConfluenceMark string

const (
	ConfluenceNone      ConfluenceMark = "none"
	ConfluenceLow       ConfluenceMark = "low"
	ConfluenceMedium    ConfluenceMark = "medium"
	ConfluenceHigh      ConfluenceMark = "high"
	ConfluenceVeryHigh  ConfluenceMark = "very_high"
)

// ConfirmedFibResult extends FibResult with the confluence grading computed
// against higher-timeframe support/resistance and swing sets.
type ConfirmedFibResult struct {
	FibResult
	Match4h            bool
	Match1h            bool
	MatchBoth          bool
	AdditionalMatches  map[string]bool
	ConfluenceMark     ConfluenceMark
	ConfluenceCount    int
}

// TrendType distinguishes a long alert (derived from a bull Fib) from a
// short alert (derived from a bear Fib).
type TrendType string

const (
	TrendLong  TrendType = "long"
	TrendShort TrendType = "short"
)

// Alert is the final tradeable signal emitted by the Alert Generator.
type Alert struct {
	Timeframe       string
	TrendType       TrendType
	Asset           string
	EntryLevel      float64
	SL              float64
	TP1             float64
	TP2             float64
	TP3             float64
	SwingLowPrice   float64
	SwingHighPrice  float64
	SwingLowTS      time.Time
	SwingHighTS     time.Time
	RiskScore       int
}
