package fibonacci

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpfutures-ingestor/internal/models"
)

func ref(ts int64, price float64) models.SwingRef {
	return models.SwingRef{Timestamp: time.Unix(ts, 0), Price: decimal.NewFromFloat(price)}
}

func TestCalculateBullExtension(t *testing.T) {
	// spec scenario 3: low=(10,100), right_high=(20,200),
	// bullish_fib_level_lower=0.618 -> fib_level = 200 - 100*0.618 = 138.2
	low := ref(10, 100)
	high := ref(20, 200)

	results := Calculate([]models.SwingRef{high}, []models.SwingRef{low}, "1h", Levels{
		BullishLower: decimal.NewFromFloat(0.618),
		Bearish:      decimal.NewFromFloat(0.5),
	})

	var bull *models.FibResult
	for i := range results {
		if results[i].FibType == models.FibBull {
			bull = &results[i]
		}
	}
	require.NotNil(t, bull, "expected a bull fib result")
	assert.True(t, bull.FibLevel.Equal(decimal.NewFromFloat(138.2)), "got fib_level=%s", bull.FibLevel)
}

func TestCalculateBearRetracement(t *testing.T) {
	low := ref(20, 100)
	leftHigh := ref(10, 200)

	results := Calculate([]models.SwingRef{leftHigh}, []models.SwingRef{low}, "1h", Levels{
		BullishLower: decimal.NewFromFloat(0.618),
		Bearish:      decimal.NewFromFloat(0.5),
	})

	var bear *models.FibResult
	for i := range results {
		if results[i].FibType == models.FibBear {
			bear = &results[i]
		}
	}
	require.NotNil(t, bear, "expected a bear fib result")
	want := decimal.NewFromFloat(150) // 100 + (200-100)*0.5
	assert.True(t, bear.FibLevel.Equal(want), "got fib_level=%s, want %s", bear.FibLevel, want)
}

func TestCalculateSkipsInvertedSwing(t *testing.T) {
	low := ref(10, 200)
	high := ref(20, 100) // "high" below the low, must be rejected

	results := Calculate([]models.SwingRef{high}, []models.SwingRef{low}, "1h", Levels{
		BullishLower: decimal.NewFromFloat(0.618),
		Bearish:      decimal.NewFromFloat(0.5),
	})
	assert.Empty(t, results, "expected no results for an inverted high/low pair")
}

func TestCalculateEmptySwingLows(t *testing.T) {
	results := Calculate([]models.SwingRef{ref(10, 100)}, nil, "1h", Levels{})
	assert.Nil(t, results, "expected nil for empty swing lows")
}
