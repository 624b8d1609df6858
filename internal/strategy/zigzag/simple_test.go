package zigzag

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/models"
)

func barAt(i int, high, low float64) models.Candle {
	return models.Candle{
		Timestamp: time.Unix(int64(i)*60, 0),
		Open:      decimal.NewFromFloat((high + low) / 2),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat((high + low) / 2),
		Volume:    decimal.NewFromInt(1),
	}
}

func TestSimplePointsTooFewBars(t *testing.T) {
	highs, lows := SimplePoints(make([]models.Candle, 3), 2)
	if highs != nil || lows != nil {
		t.Error("expected nil/nil with fewer than 2*window+1 candles")
	}
}

func TestSimplePointsDetectsCenteredExtrema(t *testing.T) {
	// A single peak at index 2 and trough at index 5, window=2.
	candles := []models.Candle{
		barAt(0, 105, 95),
		barAt(1, 108, 98),
		barAt(2, 120, 110), // swing high
		barAt(3, 108, 98),
		barAt(4, 105, 95),
		barAt(5, 90, 80), // swing low
		barAt(6, 100, 90),
		barAt(7, 102, 92),
	}

	highs, lows := SimplePoints(candles, 2)
	if len(highs) != 1 || !highs[0].Price.Equal(decimal.NewFromFloat(120)) {
		t.Fatalf("unexpected highs: %+v", highs)
	}
	if len(lows) != 1 || !lows[0].Price.Equal(decimal.NewFromFloat(80)) {
		t.Fatalf("unexpected lows: %+v", lows)
	}
}

func TestFilterRateDropsBothSidesBelowThreshold(t *testing.T) {
	highs := []indexedPoint{{idx: 2, price: 101}}
	lows := []indexedPoint{{idx: 1, price: 100}, {idx: 3, price: 100.5}}

	cleanHighs, cleanLows := FilterRate(highs, lows, 0.03)
	if len(cleanHighs) != 0 {
		t.Errorf("expected high to be dropped, got %+v", cleanHighs)
	}
	if len(cleanLows) != 1 || cleanLows[0].price != 100 {
		t.Fatalf("expected only the lower low (100) to survive, got %+v", cleanLows)
	}
}

func TestFilterRateKeepsSignificantMoves(t *testing.T) {
	highs := []indexedPoint{{idx: 2, price: 130}}
	lows := []indexedPoint{{idx: 1, price: 100}, {idx: 3, price: 90}}

	cleanHighs, cleanLows := FilterRate(highs, lows, 0.03)
	if len(cleanHighs) != 1 || cleanHighs[0].price != 130 {
		t.Fatalf("expected high to survive, got %+v", cleanHighs)
	}
	if len(cleanLows) != 2 {
		t.Fatalf("expected both lows to survive, got %+v", cleanLows)
	}
}

func TestEnforceStrictAlternationKeepsMoreExtreme(t *testing.T) {
	highs := []indexedPoint{{idx: 1, price: 110}, {idx: 2, price: 120}}
	lows := []indexedPoint{{idx: 3, price: 90}}

	finalHighs, finalLows := EnforceStrictAlternation(highs, lows)
	if len(finalHighs) != 1 || finalHighs[0].price != 120 {
		t.Fatalf("expected only the more extreme high (120) to survive, got %+v", finalHighs)
	}
	if len(finalLows) != 1 || finalLows[0].price != 90 {
		t.Fatalf("unexpected lows: %+v", finalLows)
	}
}
