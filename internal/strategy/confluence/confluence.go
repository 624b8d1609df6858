package confluence

import (
	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/models"
)

// HigherTimeframeData is the pre-computed S/R and swing reference set for
// one higher timeframe, keyed by its own name (e.g. "4h", "1h").
type HigherTimeframeData struct {
	Timeframe   string
	Supports    []Level
	Resistances []Level
	SwingHighs  []models.SwingRef
	SwingLows   []models.SwingRef
}

// Confirm grades a candidate FibResult against a set of higher-timeframe
// reference sets, ordered from highest to lowest: for each timeframe, the
// candidate matches if any support level (bull) or resistance level (bear)
// lies within epsilon (relative distance) of fib.FibLevel. confluence_count
// is the number of timeframes that matched, capped at 3.
func Confirm(fib models.FibResult, higherTimeframes []HigherTimeframeData, epsilon decimal.Decimal) models.ConfirmedFibResult {
	result := models.ConfirmedFibResult{FibResult: fib, AdditionalMatches: map[string]bool{}}

	count := 0
	for _, htf := range higherTimeframes {
		matched := matchesAny(fib, htf, epsilon)
		if matched {
			count++
		}
		switch htf.Timeframe {
		case "4h":
			result.Match4h = matched
		case "1h":
			result.Match1h = matched
		default:
			result.AdditionalMatches[htf.Timeframe] = matched
		}
	}
	result.MatchBoth = result.Match4h && result.Match1h

	// The grade reflects the raw match count (so a 4th+ matching timeframe
	// can still push the mark to very_high), but confluence_count itself —
	// what downstream risk_score consumes — is capped at 3.
	result.ConfluenceMark = gradeOf(count)
	if count > 3 {
		count = 3
	}
	result.ConfluenceCount = count
	return result
}

// matchesAny compares fib against every reference level of the directional
// kind that corresponds to its type: support levels and swing lows for a
// bull (extension) level, resistance levels and swing highs for a bear
// (retracement) level — both S/R and raw swing points act as the same kind
// of structural floor/ceiling the candidate level might be confirming.
func matchesAny(fib models.FibResult, htf HigherTimeframeData, epsilon decimal.Decimal) bool {
	var refLevels []decimal.Decimal
	if fib.FibType == models.FibBull {
		for _, s := range htf.Supports {
			refLevels = append(refLevels, s.Price)
		}
		for _, s := range htf.SwingLows {
			refLevels = append(refLevels, s.Price)
		}
	} else {
		for _, r := range htf.Resistances {
			refLevels = append(refLevels, r.Price)
		}
		for _, r := range htf.SwingHighs {
			refLevels = append(refLevels, r.Price)
		}
	}

	for _, ref := range refLevels {
		if ref.IsZero() {
			continue
		}
		diff := fib.FibLevel.Sub(ref).Abs()
		rate := diff.Div(ref)
		if rate.LessThanOrEqual(epsilon) {
			return true
		}
	}
	return false
}

func gradeOf(count int) models.ConfluenceMark {
	switch {
	case count <= 0:
		return models.ConfluenceNone
	case count == 1:
		return models.ConfluenceLow
	case count == 2:
		return models.ConfluenceMedium
	case count == 3:
		return models.ConfluenceHigh
	default:
		return models.ConfluenceVeryHigh
	}
}
