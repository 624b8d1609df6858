// Alternative simple swing detector: a rolling-window local-extrema scan,
// independent of the ZigZag++ state machine above. Grounded on
// original_source/services/strategy-engine/swing_high_low.py
// (calculate_swing_points, filter_between, enforce_strict_alternation,
// filter_rate).
package zigzag

import (
	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/decimalx"
	"perpfutures-ingestor/internal/models"
)

type indexedPoint struct {
	idx   int
	price float64
}

// SimplePoints finds swing highs/lows via a centered rolling-window extrema
// scan: a bar is a swing high if its high is the max of the window bars
// window:
// * window candles before and after it, and a swing low symmetrically.
// Returns (nil, nil) if fewer than 2*window+1 candles are supplied.
func SimplePoints(candles []models.Candle, window int) ([]models.SwingRef, []models.SwingRef) {
	if window < 0 || len(candles) < 2*window+1 {
		return nil, nil
	}

	var highs, lows []indexedPoint
	for i := range candles {
		if i-window < 0 || i+window >= len(candles) {
			continue
		}
		h := candles[i].High.InexactFloat64()
		l := candles[i].Low.InexactFloat64()

		isHigh := true
		isLow := true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if candles[j].High.InexactFloat64() > h {
				isHigh = false
			}
			if candles[j].Low.InexactFloat64() < l {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, indexedPoint{idx: i, price: h})
		}
		if isLow {
			lows = append(lows, indexedPoint{idx: i, price: l})
		}
	}

	return toSwingRefs(candles, highs), toSwingRefs(candles, lows)
}

// FilterBetween keeps, for each consecutive pair of boundary points in
// main, only the single most extreme (min or max, by keepMax) point of
// other that falls strictly between them, always preserving other's first
// and last point.
func FilterBetween(main, other []indexedPoint, keepMax bool) []indexedPoint {
	if len(main) == 0 || len(other) == 0 {
		return nil
	}
	if len(main) < 2 {
		out := make([]indexedPoint, len(other))
		copy(out, other)
		return out
	}

	var filtered []indexedPoint
	for i := 0; i < len(main)-1; i++ {
		startIdx, endIdx := main[i].idx, main[i+1].idx

		var inside []indexedPoint
		for _, p := range other {
			if p.idx > startIdx && p.idx < endIdx {
				inside = append(inside, p)
			}
		}
		if len(inside) == 0 {
			continue
		}

		selected := inside[0]
		for _, p := range inside[1:] {
			if keepMax && p.price > selected.price {
				selected = p
			}
			if !keepMax && p.price < selected.price {
				selected = p
			}
		}
		filtered = append(filtered, selected)
	}

	if !containsPoint(filtered, other[0]) {
		filtered = append([]indexedPoint{other[0]}, filtered...)
	}
	if !containsPoint(filtered, other[len(other)-1]) {
		filtered = append(filtered, other[len(other)-1])
	}
	return filtered
}

func containsPoint(points []indexedPoint, p indexedPoint) bool {
	for _, q := range points {
		if q == p {
			return true
		}
	}
	return false
}

// EnforceStrictAlternation merges highs/lows by index and, whenever two
// same-type points land consecutively, keeps only the more extreme one.
func EnforceStrictAlternation(highs, lows []indexedPoint) ([]indexedPoint, []indexedPoint) {
	if len(highs) == 0 && len(lows) == 0 {
		return nil, nil
	}

	type marked = struct {
		indexedPoint
		isHigh bool
	}
	merged := make([]marked, 0, len(highs)+len(lows))
	for _, h := range highs {
		merged = append(merged, marked{h, true})
	}
	for _, l := range lows {
		merged = append(merged, marked{l, false})
	}
	sortMarked(merged)

	var finalHighs, finalLows []indexedPoint
	lastType := -1 // -1 none, 0 low, 1 high
	for _, m := range merged {
		t := 0
		if m.isHigh {
			t = 1
		}
		if t == lastType {
			if m.isHigh {
				if m.price > finalHighs[len(finalHighs)-1].price {
					finalHighs[len(finalHighs)-1] = m.indexedPoint
				}
			} else {
				if m.price < finalLows[len(finalLows)-1].price {
					finalLows[len(finalLows)-1] = m.indexedPoint
				}
			}
		} else {
			if m.isHigh {
				finalHighs = append(finalHighs, m.indexedPoint)
			} else {
				finalLows = append(finalLows, m.indexedPoint)
			}
		}
		lastType = t
	}
	return finalHighs, finalLows
}

func sortMarked(m []struct {
	indexedPoint
	isHigh bool
}) {
	for i := 1; i < len(m); i++ {
		for j := i; j > 0 && m[j].idx < m[j-1].idx; j-- {
			m[j], m[j-1] = m[j-1], m[j]
		}
	}
}

// FilterRate applies the minimum-move-rate pruning rule: for each swing
// high, compare against its nearest surviving left/right low and drop the
// high (and the offending low) if either move is below rate. If both
// sides fail, the LOWER of the two lows survives. Always finishes by
// re-enforcing strict alternation.
func FilterRate(highs, lows []indexedPoint, rate float64) ([]indexedPoint, []indexedPoint) {
	if len(highs) == 0 && len(lows) == 0 {
		return nil, nil
	}
	if rate <= 0 {
		h := append([]indexedPoint(nil), highs...)
		l := append([]indexedPoint(nil), lows...)
		return h, l
	}

	cleanLows := append([]indexedPoint(nil), lows...)
	var cleanHighs []indexedPoint

	for _, h := range highs {
		leftIdx, rightIdx := -1, -1
		for i, l := range cleanLows {
			if l.idx < h.idx {
				leftIdx = i
			}
		}
		for i := len(cleanLows) - 1; i >= 0; i-- {
			if cleanLows[i].idx > h.idx {
				rightIdx = i
			}
		}

		if leftIdx == -1 || rightIdx == -1 {
			cleanHighs = append(cleanHighs, h)
			continue
		}

		leftLow, rightLow := cleanLows[leftIdx], cleanLows[rightIdx]
		var leftRate, rightRate float64
		if leftLow.price > 0 {
			leftRate = (h.price - leftLow.price) / leftLow.price
		}
		if rightLow.price > 0 {
			rightRate = (h.price - rightLow.price) / rightLow.price
		}

		switch {
		case leftRate < rate && rightRate < rate:
			lowerLow := leftLow
			if rightLow.price < leftLow.price {
				lowerLow = rightLow
			}
			cleanLows = keepOnly(cleanLows, lowerLow, leftLow, rightLow)
		case leftRate < rate:
			cleanLows = removePoint(cleanLows, leftLow)
		case rightRate < rate:
			cleanLows = removePoint(cleanLows, rightLow)
		default:
			cleanHighs = append(cleanHighs, h)
		}
	}

	return EnforceStrictAlternation(cleanHighs, cleanLows)
}

// keepOnly drops left/right from points unless the point equals keep,
// matching the source's "keep the lower of the two lows" rule.
func keepOnly(points []indexedPoint, keep, left, right indexedPoint) []indexedPoint {
	var out []indexedPoint
	for _, p := range points {
		if p == keep || (p != left && p != right) {
			out = append(out, p)
		}
	}
	return out
}

func removePoint(points []indexedPoint, target indexedPoint) []indexedPoint {
	var out []indexedPoint
	for _, p := range points {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

func toSwingRefs(candles []models.Candle, points []indexedPoint) []models.SwingRef {
	if len(points) == 0 {
		return nil
	}
	out := make([]models.SwingRef, 0, len(points))
	for _, p := range points {
		out = append(out, models.SwingRef{
			Timestamp: candles[p.idx].Timestamp,
			Price:     decimalx.ToDecimalSafe(p.price, decimal.Zero),
		})
	}
	return out
}
