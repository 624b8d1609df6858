// Package alerts is the Alert Generator (C11): it turns a confirmed
// Fibonacci level into a tradeable SL/TP1/2/3 alert, discarding swings
// whose move is too small to be worth acting on. Grounded on
// original_source/services/strategy-engine/alerts/generator.py's
// AlertGenerator.generate_alerts and spec §4.11.
package alerts

import (
	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/models"
)

// FibLevels are the configured stop-loss/take-profit Fibonacci ratios
// applied to a swing's range.
type FibLevels struct {
	BullishSL decimal.Decimal
	BearishSL decimal.Decimal
	TP1       decimal.Decimal
	TP2       decimal.Decimal
	TP3       decimal.Decimal
}

// Generate produces an Alert for a confirmed level, or (zero, false) if the
// level fails validation (non-positive or inverted swing prices) or its
// swing range is too small relative to pruningRate for this asset.
func Generate(asset string, level models.ConfirmedFibResult, pruningRate decimal.Decimal, levels FibLevels) (models.Alert, bool) {
	pLow := level.SwingLow.Price
	pHigh := level.SwingHigh.Price

	if !pHigh.GreaterThan(pLow) || !pLow.GreaterThan(decimal.Zero) {
		return models.Alert{}, false
	}

	if !pLow.IsZero() {
		rate := pHigh.Sub(pLow).Abs().Div(pLow)
		if rate.LessThanOrEqual(pruningRate) {
			return models.Alert{}, false
		}
	}

	riskScore := level.ConfluenceCount
	if riskScore > 3 {
		riskScore = 3
	}

	diff := pHigh.Sub(pLow)

	var trend models.TrendType
	var sl, tp1, tp2, tp3 decimal.Decimal

	switch level.FibType {
	case models.FibBull:
		trend = models.TrendLong
		sl = pHigh.Sub(diff.Mul(levels.BullishSL))
		tp1 = pHigh.Sub(diff.Mul(levels.TP1))
		tp2 = pHigh.Sub(diff.Mul(levels.TP2))
		tp3 = pHigh.Sub(diff.Mul(levels.TP3))
	case models.FibBear:
		trend = models.TrendShort
		sl = pLow.Add(diff.Mul(levels.BearishSL))
		tp1 = pLow.Add(diff.Mul(levels.TP1))
		tp2 = pLow.Add(diff.Mul(levels.TP2))
		tp3 = pLow.Add(diff.Mul(levels.TP3))
	default:
		return models.Alert{}, false
	}

	alert := models.Alert{
		Timeframe:      level.Timeframe,
		TrendType:      trend,
		Asset:          asset,
		EntryLevel:     level.FibLevel.InexactFloat64(),
		SL:             sl.InexactFloat64(),
		TP1:            tp1.InexactFloat64(),
		TP2:            tp2.InexactFloat64(),
		TP3:            tp3.InexactFloat64(),
		SwingLowPrice:  pLow.InexactFloat64(),
		SwingHighPrice: pHigh.InexactFloat64(),
		SwingLowTS:     level.SwingLow.Timestamp,
		SwingHighTS:    level.SwingHigh.Timestamp,
		RiskScore:      riskScore,
	}
	return alert, true
}
