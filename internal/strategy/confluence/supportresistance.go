// Package confluence implements the Support/Resistance scan and the
// Confluence Confirmer (C10): it grades a candidate Fibonacci level by how
// many pre-computed higher-timeframe reference levels it lands near.
// Grounded on
// original_source/services/strategy-engine/support_resistance.py (support,
// resistance) and spec §4.10.
package confluence

import (
	"time"

	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/models"
)

// Level is a detected support or resistance price anchored to the candle
// that formed it.
type Level struct {
	Timestamp time.Time
	Price     decimal.Decimal
}

// IsSupport reports whether candles[i]'s reference price (low for
// intraday, open for higher-timeframe analysis) is the minimum across the
// window [i-before, i+after]. Returns false if the window runs off either
// edge of candles.
func IsSupport(candles []models.Candle, i, before, after int, higherTimeframe bool) bool {
	if i < before || i >= len(candles)-after {
		return false
	}
	price := func(c models.Candle) float64 {
		if higherTimeframe {
			return c.Open.InexactFloat64()
		}
		return c.Low.InexactFloat64()
	}
	candidate := price(candles[i])
	for j := i - before; j < i; j++ {
		if price(candles[j]) < candidate {
			return false
		}
	}
	for j := i + 1; j <= i+after; j++ {
		if price(candles[j]) < candidate {
			return false
		}
	}
	return true
}

// IsResistance reports whether candles[i]'s reference price (high for
// intraday, close for higher-timeframe analysis) is the maximum across the
// window [i-before, i+after].
func IsResistance(candles []models.Candle, i, before, after int, higherTimeframe bool) bool {
	if i < before || i >= len(candles)-after {
		return false
	}
	price := func(c models.Candle) float64 {
		if higherTimeframe {
			return c.Close.InexactFloat64()
		}
		return c.High.InexactFloat64()
	}
	candidate := price(candles[i])
	for j := i - before; j < i; j++ {
		if price(candles[j]) > candidate {
			return false
		}
	}
	for j := i + 1; j <= i+after; j++ {
		if price(candles[j]) > candidate {
			return false
		}
	}
	return true
}

// ScanLevels walks every index of candles that has a full before/after
// window and returns the support and resistance levels found.
func ScanLevels(candles []models.Candle, before, after int, higherTimeframe bool) (supports, resistances []Level) {
	for i := before; i < len(candles)-after; i++ {
		if IsSupport(candles, i, before, after, higherTimeframe) {
			p := candles[i].Low
			if higherTimeframe {
				p = candles[i].Open
			}
			supports = append(supports, Level{Timestamp: candles[i].Timestamp, Price: p})
		}
		if IsResistance(candles, i, before, after, higherTimeframe) {
			p := candles[i].High
			if higherTimeframe {
				p = candles[i].Close
			}
			resistances = append(resistances, Level{Timestamp: candles[i].Timestamp, Price: p})
		}
	}
	return supports, resistances
}
