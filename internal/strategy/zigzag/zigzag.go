// Package zigzag is the ZigZag++ Swing Detector (C8): a one-pass scan over
// OHLC bars that filters out minor price movements and reports the
// significant swing highs/lows used to anchor Fibonacci analysis. Grounded
// on original_source/services/strategy-engine/indicators/zigzag.py's
// PineScript ZigLib port (calculate_zigzag, get_zigzag_points).
package zigzag

import (
	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/decimalx"
	"perpfutures-ingestor/internal/models"
)

// Params bundles the ZigZag++ tuning knobs. MinTick, when zero, is
// auto-estimated as 0.01% of the average high/low price (falling back to
// 0.01), matching the source.
type Params struct {
	Depth            int
	Deviation        int
	Backstep         int
	MinTick          float64
	SwingPruningRate float64
}

// DefaultParams mirrors the original's function defaults.
func DefaultParams() Params {
	return Params{Depth: 12, Deviation: 5, Backstep: 2, SwingPruningRate: 0.03}
}

type swingMark struct {
	isHigh bool
	ts     int64
	price  float64
}

// Points returns the significant swing highs and lows extracted from
// candles, in chronological order. Returns (nil, nil) if candles is too
// short (fewer than depth+backstep+1 bars) or params are invalid
// (depth < 1, deviation < 1, or backstep < 2).
func Points(candles []models.Candle, p Params) ([]models.SwingRef, []models.SwingRef) {
	if p.Depth < 1 || p.Deviation < 1 || p.Backstep < 2 {
		return nil, nil
	}
	if len(candles) < p.Depth+p.Backstep+1 {
		return nil, nil
	}

	z2, direction := scan(candles, p)
	swings := extractSwings(z2, direction)
	swings = filterByRate(swings, p.SwingPruningRate)
	swings = collapseIntermediate(swings)
	swings = enforceAlternation(swings)

	var highs, lows []models.SwingRef
	for _, s := range swings {
		ref := models.SwingRef{Timestamp: candles[tsIndex(candles, s.ts)].Timestamp, Price: decimalx.ToDecimalSafe(s.price, decimal.Zero)}
		if s.isHigh {
			highs = append(highs, ref)
		} else {
			lows = append(lows, ref)
		}
	}
	return highs, lows
}

// tsIndex finds the candle whose Unix timestamp matches ts. Swing marks are
// always produced from a candle in the slice, so this always succeeds.
func tsIndex(candles []models.Candle, ts int64) int {
	for i, c := range candles {
		if c.Timestamp.Unix() == ts {
			return i
		}
	}
	return 0
}

type zigzagPoint struct {
	ts    int64
	price float64
}

// scan is the one-pass ZigLib port: it computes the hr/lr "bars since
// condition was false" arrays, derives direction per bar, and walks the
// z/z1/z2 state machine. It returns the z2 point and direction for every
// bar from index depth+1 onward (earlier bars are seed values and carry no
// swing information).
func scan(candles []models.Candle, p Params) ([]zigzagPoint, []int) {
	n := len(candles)
	high := make([]float64, n)
	low := make([]float64, n)
	ts := make([]int64, n)
	for i, c := range candles {
		high[i] = c.High.InexactFloat64()
		low[i] = c.Low.InexactFloat64()
		ts[i] = c.Timestamp.Unix()
	}

	mintick := p.MinTick
	if mintick <= 0 {
		var sumHigh, sumLow float64
		for i := range candles {
			sumHigh += high[i]
			sumLow += low[i]
		}
		avg := (sumHigh/float64(n) + sumLow/float64(n)) / 2
		mintick = avg * 0.0001
		if mintick <= 0 {
			mintick = 0.01
		}
	}

	hr := make([]int, n)
	lr := make([]int, n)
	threshold := float64(p.Deviation) * mintick

	for i := p.Depth + 1; i < n; i++ {
		prevIdx := i - 1

		windowStart := prevIdx - p.Depth + 1
		if windowStart < 0 {
			windowStart = 0
		}
		highestIdx := windowStart
		for j := windowStart; j <= prevIdx; j++ {
			if high[j] > high[highestIdx] {
				highestIdx = j
			}
		}
		highestBars := highestIdx - prevIdx

		hrValue := 0
		for j := prevIdx; j >= 0 && j > prevIdx-p.Depth-1; j-- {
			at := j + highestBars
			if at < 0 || at >= n {
				continue
			}
			if !((high[at] - high[j]) > threshold) {
				hrValue = prevIdx - j
				break
			}
		}
		hr[i] = hrValue

		lowestIdx := windowStart
		for j := windowStart; j <= prevIdx; j++ {
			if low[j] < low[lowestIdx] {
				lowestIdx = j
			}
		}
		lowestBars := lowestIdx - prevIdx

		lrValue := 0
		for j := prevIdx; j >= 0 && j > prevIdx-p.Depth-1; j-- {
			at := j + lowestBars
			if at < 0 || at >= n {
				continue
			}
			if !((low[j] - low[at]) > threshold) {
				lrValue = prevIdx - j
				break
			}
		}
		lr[i] = lrValue
	}

	direction := make([]int, n)
	for i := range direction {
		direction[i] = 1
	}
	for i := p.Depth + 1; i < n; i++ {
		barsSince := 0
		found := false
		lowerBound := i - p.Depth - p.Backstep - 1
		for j := i; j >= 0 && j > lowerBound; j-- {
			if hr[j] <= lr[j] {
				barsSince = i - j
				found = true
				break
			}
		}
		if found && barsSince >= p.Backstep {
			direction[i] = -1
		} else {
			direction[i] = 1
		}
	}

	// z1 (the ZigLib "previous confirmed point") only ever feeds the
	// HH/LH/HL/LL point-type labels, which swing extraction below does not
	// need, so it is not tracked here.
	zTS, zPrice := ts[0], low[0]
	z2TS, z2Price := zTS, high[0]

	z2Out := make([]zigzagPoint, n)
	for i := 0; i <= p.Depth; i++ {
		z2Out[i] = zigzagPoint{ts: z2TS, price: z2Price}
	}

	for i := p.Depth + 1; i < n; i++ {
		currentDirection := direction[i]
		prevDirection := direction[i-1]
		currentHigh, currentLow, currentTS := high[i], low[i], ts[i]

		if currentDirection != prevDirection {
			z2TS, z2Price = zTS, zPrice
		}

		if currentDirection > 0 {
			if currentHigh > z2Price {
				z2TS, z2Price = currentTS, currentHigh
				zTS, zPrice = currentTS, currentLow
			}
			if currentLow < zPrice {
				zTS, zPrice = currentTS, currentLow
			}
		} else {
			if currentLow < z2Price {
				z2TS, z2Price = currentTS, currentLow
				zTS, zPrice = currentTS, currentHigh
			}
			if currentHigh > zPrice {
				zTS, zPrice = currentTS, currentHigh
			}
		}

		z2Out[i] = zigzagPoint{ts: z2TS, price: z2Price}
	}

	return z2Out, direction
}

// extractSwings implements get_zigzag_points steps 1 and the trailing
// last-point append: capture the previous z2 point every time direction
// flips, then append the final z2 point if it isn't already a same-type
// duplicate of the last captured swing.
func extractSwings(z2 []zigzagPoint, direction []int) []swingMark {
	var swings []swingMark
	var prevDirection int
	havePrev := false

	for i := range z2 {
		current := direction[i]
		if havePrev && prevDirection != current && i > 0 {
			prev := z2[i-1]
			swings = append(swings, swingMark{isHigh: prevDirection > 0, ts: prev.ts, price: prev.price})
		}
		prevDirection = current
		havePrev = true
	}

	if len(z2) > 0 {
		last := z2[len(z2)-1]
		lastDirection := direction[len(direction)-1]
		isHigh := lastDirection > 0
		if len(swings) == 0 || swings[len(swings)-1].isHigh != isHigh {
			swings = append(swings, swingMark{isHigh: isHigh, ts: last.ts, price: last.price})
		}
	}
	return swings
}

// filterByRate drops swings whose move from the raw previous swing is below
// rate, per get_zigzag_points step 2: the comparison is always against
// swings[i-1] in the unfiltered list, not the last swing actually kept —
// matching the original's all_swings[i-1] indexing, not filtered_swings[-1].
func filterByRate(swings []swingMark, rate float64) []swingMark {
	if len(swings) == 0 {
		return nil
	}
	filtered := []swingMark{swings[0]}
	for i := 1; i < len(swings); i++ {
		prev := swings[i-1]
		curr := swings[i]
		var priceRate float64
		if prev.price > 0 {
			priceRate = abs(curr.price-prev.price) / prev.price
		}
		if priceRate > rate {
			filtered = append(filtered, curr)
		}
	}
	return filtered
}

// collapseIntermediate implements get_zigzag_points step 3: between two
// swings of opposite type, keep only the single most extreme swing of the
// leading type.
func collapseIntermediate(swings []swingMark) []swingMark {
	if len(swings) == 0 {
		return nil
	}
	final := []swingMark{swings[0]}

	i := 1
	for i < len(swings) {
		currentType := swings[i].isHigh
		nextOpposite := -1
		for j := i + 1; j < len(swings); j++ {
			if swings[j].isHigh != currentType {
				nextOpposite = j
				break
			}
		}

		if nextOpposite == -1 {
			best := swings[i]
			for j := i; j < len(swings); j++ {
				if swings[j].isHigh != currentType {
					continue
				}
				if (currentType && swings[j].price > best.price) || (!currentType && swings[j].price < best.price) {
					best = swings[j]
				}
			}
			final = append(final, best)
			break
		}

		best := swings[i]
		for j := i; j < nextOpposite; j++ {
			if swings[j].isHigh != currentType {
				continue
			}
			if (currentType && swings[j].price > best.price) || (!currentType && swings[j].price < best.price) {
				best = swings[j]
			}
		}
		final = append(final, best)
		i = nextOpposite
	}
	return final
}

// enforceAlternation implements get_zigzag_points step 4: collapse
// consecutive same-type swings, keeping the more extreme one.
func enforceAlternation(swings []swingMark) []swingMark {
	if len(swings) == 0 {
		return nil
	}
	strict := []swingMark{swings[0]}
	for i := 1; i < len(swings); i++ {
		curr := swings[i]
		last := strict[len(strict)-1]
		if curr.isHigh != last.isHigh {
			strict = append(strict, curr)
			continue
		}
		if (curr.isHigh && curr.price > last.price) || (!curr.isHigh && curr.price < last.price) {
			strict[len(strict)-1] = curr
		}
	}
	return strict
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
