package zigzag

import (
	"testing"

	"perpfutures-ingestor/internal/models"
)

func sm(isHigh bool, ts int64, price float64) swingMark {
	return swingMark{isHigh: isHigh, ts: ts, price: price}
}

func TestPruningPipelineWorkedExample(t *testing.T) {
	// spec scenario: swings [(1,100),(2,100.5),(3,100),(4,110),(5,100)]
	// alternating low/high/low/high/low, pruning_rate=0.03 ->
	// highs=[(4,110)], lows=[(1,100),(5,100)].
	swings := []swingMark{
		sm(false, 1, 100),
		sm(true, 2, 100.5),
		sm(false, 3, 100),
		sm(true, 4, 110),
		sm(false, 5, 100),
	}

	filtered := filterByRate(swings, 0.03)
	collapsed := collapseIntermediate(filtered)
	final := enforceAlternation(collapsed)

	var highs, lows []swingMark
	for _, s := range final {
		if s.isHigh {
			highs = append(highs, s)
		} else {
			lows = append(lows, s)
		}
	}

	if len(highs) != 1 || highs[0].ts != 4 || highs[0].price != 110 {
		t.Fatalf("unexpected highs: %+v", highs)
	}
	if len(lows) != 2 || lows[0].ts != 1 || lows[0].price != 100 || lows[1].ts != 5 || lows[1].price != 100 {
		t.Fatalf("unexpected lows: %+v", lows)
	}
}

func TestPointsRejectsInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.Backstep = 1 // backstep must be >= 2
	highs, lows := Points(nil, p)
	if highs != nil || lows != nil {
		t.Error("expected nil/nil for invalid backstep")
	}
}

func TestPointsRejectsTooFewBars(t *testing.T) {
	p := Params{Depth: 12, Deviation: 5, Backstep: 2, SwingPruningRate: 0.03}
	highs, lows := Points(make([]models.Candle, 5), p)
	if highs != nil || lows != nil {
		t.Error("expected nil/nil when fewer than depth+backstep+1 bars are supplied")
	}
}
