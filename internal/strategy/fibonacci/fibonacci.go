// Package fibonacci is the Fibonacci Level Calculator (C9): it derives
// bullish-extension and bearish-retracement price levels from swing
// highs/lows, entirely in exact decimal arithmetic. Grounded on
// original_source/services/strategy-engine/indicators/fibonacci.py's
// calculate_fibonacci_levels.
package fibonacci

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/models"
)

// Levels bundles the two configurable Fibonacci ratios.
type Levels struct {
	BullishLower decimal.Decimal // extension factor subtracted from the right high
	Bearish      decimal.Decimal // retracement factor added to the low
}

// Calculate derives, for every swing low, a bullish extension level (from
// the nearest swing high after it) and a bearish retracement level (from
// the nearest swing high before it). The bullish level is floored at the
// swing low (it has no upper clamp); the bearish level is clamped between
// the swing low and its left high.
func Calculate(swingHighs, swingLows []models.SwingRef, timeframe string, levels Levels) []models.FibResult {
	if len(swingLows) == 0 {
		return nil
	}

	validHighs := make([]models.SwingRef, 0, len(swingHighs))
	for _, h := range swingHighs {
		if h.Price.GreaterThan(decimal.Zero) {
			validHighs = append(validHighs, h)
		}
	}
	sort.Slice(validHighs, func(i, j int) bool { return validHighs[i].Timestamp.Before(validHighs[j].Timestamp) })

	var out []models.FibResult
	for _, low := range swingLows {
		if !low.Price.GreaterThan(decimal.Zero) {
			continue
		}

		rightHigh, ok := firstHighAfter(validHighs, low.Timestamp)
		if ok && rightHigh.Price.GreaterThan(low.Price) {
			diff := rightHigh.Price.Sub(low.Price)
			fibLevel := rightHigh.Price.Sub(diff.Mul(levels.BullishLower))
			fibLevel = decimal.Max(low.Price, fibLevel)

			out = append(out, models.FibResult{
				Timeframe: timeframe,
				SwingLow:  low,
				SwingHigh: rightHigh,
				FibLevel:  fibLevel,
				FibType:   models.FibBull,
			})
		}

		leftHigh, ok := lastHighBefore(validHighs, low.Timestamp)
		if ok && leftHigh.Price.GreaterThan(low.Price) {
			diff := leftHigh.Price.Sub(low.Price)
			fibLevel := low.Price.Add(diff.Mul(levels.Bearish))
			fibLevel = decimal.Max(low.Price, decimal.Min(leftHigh.Price, fibLevel))

			out = append(out, models.FibResult{
				Timeframe: timeframe,
				SwingLow:  low,
				SwingHigh: leftHigh,
				FibLevel:  fibLevel,
				FibType:   models.FibBear,
			})
		}
	}
	return out
}

// firstHighAfter returns the earliest high strictly after t (validHighs
// must be sorted ascending by timestamp).
func firstHighAfter(validHighs []models.SwingRef, t time.Time) (models.SwingRef, bool) {
	for _, h := range validHighs {
		if h.Timestamp.After(t) {
			return h, true
		}
	}
	return models.SwingRef{}, false
}

// lastHighBefore returns the most recent high strictly before t
// (validHighs must be sorted ascending by timestamp).
func lastHighBefore(validHighs []models.SwingRef, t time.Time) (models.SwingRef, bool) {
	var best models.SwingRef
	found := false
	for _, h := range validHighs {
		if h.Timestamp.Before(t) {
			best = h
			found = true
		} else {
			break
		}
	}
	return best, found
}
