package alerts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpfutures-ingestor/internal/models"
)

func confirmedBull(low, high float64, confluence int) models.ConfirmedFibResult {
	return models.ConfirmedFibResult{
		FibResult: models.FibResult{
			Timeframe: "4h",
			SwingLow:  models.SwingRef{Timestamp: time.Unix(10, 0), Price: decimal.NewFromFloat(low)},
			SwingHigh: models.SwingRef{Timestamp: time.Unix(20, 0), Price: decimal.NewFromFloat(high)},
			FibLevel:  decimal.NewFromFloat(138.2),
			FibType:   models.FibBull,
		},
		ConfluenceCount: confluence,
	}
}

func TestGenerateBullAlertMatchesWorkedExample(t *testing.T) {
	// spec scenario 4: low=100, high=200, bullish_sl_fib_level=0,
	// tp1=0.786, tp2=1.0, tp3=1.272 -> sl=200, tp1=121.4, tp2=100, tp3=72.8
	level := confirmedBull(100, 200, 1)
	levels := FibLevels{
		BullishSL: decimal.Zero,
		TP1:       decimal.NewFromFloat(0.786),
		TP2:       decimal.NewFromFloat(1.0),
		TP3:       decimal.NewFromFloat(1.272),
	}

	alert, ok := Generate("BTCUSDT", level, decimal.NewFromFloat(0.03), levels)
	require.True(t, ok, "expected alert to be generated")
	assert.Equal(t, 200.0, alert.SL)
	assert.Equal(t, 121.4, alert.TP1)
	assert.Equal(t, 100.0, alert.TP2)
	assert.Equal(t, 72.8, alert.TP3)
	assert.Equal(t, models.TrendLong, alert.TrendType)
}

func TestGenerateDiscardsSwingBelowPruningRate(t *testing.T) {
	level := confirmedBull(100, 101, 1) // 1% move
	_, ok := Generate("BTCUSDT", level, decimal.NewFromFloat(0.03), FibLevels{})
	assert.False(t, ok, "expected alert to be discarded for a sub-pruning-rate swing")
}

func TestGenerateRejectsInvertedSwing(t *testing.T) {
	level := confirmedBull(200, 100, 1) // low > high, invalid
	_, ok := Generate("BTCUSDT", level, decimal.NewFromFloat(0.03), FibLevels{})
	assert.False(t, ok, "expected rejection of an inverted swing")
}

func TestGenerateCapsRiskScoreAtThree(t *testing.T) {
	level := confirmedBull(100, 200, 7)
	levels := FibLevels{TP1: decimal.NewFromFloat(0.786), TP2: decimal.NewFromFloat(1.0), TP3: decimal.NewFromFloat(1.272)}
	alert, ok := Generate("BTCUSDT", level, decimal.NewFromFloat(0.03), levels)
	require.True(t, ok, "expected alert to be generated")
	assert.Equal(t, 3, alert.RiskScore)
}

func TestGenerateBearAlert(t *testing.T) {
	level := models.ConfirmedFibResult{
		FibResult: models.FibResult{
			Timeframe: "1h",
			SwingLow:  models.SwingRef{Timestamp: time.Unix(10, 0), Price: decimal.NewFromFloat(100)},
			SwingHigh: models.SwingRef{Timestamp: time.Unix(5, 0), Price: decimal.NewFromFloat(200)},
			FibLevel:  decimal.NewFromFloat(150),
			FibType:   models.FibBear,
		},
		ConfluenceCount: 1,
	}
	levels := FibLevels{BearishSL: decimal.Zero, TP1: decimal.NewFromFloat(0.5)}
	alert, ok := Generate("ETHUSDT", level, decimal.NewFromFloat(0.03), levels)
	require.True(t, ok, "expected bear alert to be generated")
	assert.Equal(t, models.TrendShort, alert.TrendType)
	assert.Equal(t, 100.0, alert.SL, "bearish_sl_fib_level=0 -> sl=p_l")
	assert.Equal(t, 150.0, alert.TP1)
}
