package batch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/market"
	"perpfutures-ingestor/internal/models"
)

type fakePersister struct {
	closedCalls     [][]models.Candle
	inProgressCalls [][]models.Candle
	err             error
}

func (f *fakePersister) SaveCandlesMerge(ctx context.Context, candles []models.Candle, closed bool) error {
	if f.err != nil {
		return f.err
	}
	if closed {
		f.closedCalls = append(f.closedCalls, candles)
	} else {
		f.inProgressCalls = append(f.inProgressCalls, candles)
	}
	return nil
}

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, payload any) {
	f.published = append(f.published, channel)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candle(symbol string, closed bool) models.Candle {
	return models.Candle{
		Symbol:    symbol,
		Timeframe: "1m",
		Timestamp: time.Now(),
		Open:      decimal.NewFromInt(100),
		High:      decimal.NewFromInt(101),
		Low:       decimal.NewFromInt(99),
		Close:     decimal.NewFromInt(100),
		Volume:    decimal.NewFromInt(10),
		IsClosed:  closed,
	}
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	p := &fakePersister{}
	w := NewWriter(p, &fakePublisher{}, market.NewMetrics(), testLogger(), 100, time.Second)
	w.Flush(context.Background())

	if len(p.closedCalls) != 0 || len(p.inProgressCalls) != 0 {
		t.Error("expected no DB calls on empty-buffer flush")
	}
}

func TestFlushPartitionsClosedAndInProgress(t *testing.T) {
	p := &fakePersister{}
	pub := &fakePublisher{}
	w := NewWriter(p, pub, market.NewMetrics(), testLogger(), 100, time.Second)

	w.Add(context.Background(), candle("BTCUSDT", false))
	w.Add(context.Background(), candle("BTCUSDT", true))
	w.Flush(context.Background())

	if len(p.closedCalls) != 1 || len(p.closedCalls[0]) != 1 {
		t.Fatalf("expected one closed batch with 1 candle, got %+v", p.closedCalls)
	}
	if len(p.inProgressCalls) != 1 || len(p.inProgressCalls[0]) != 1 {
		t.Fatalf("expected one in-progress batch with 1 candle, got %+v", p.inProgressCalls)
	}
	if len(pub.published) != 1 || pub.published[0] != "candle_update" {
		t.Errorf("expected exactly one candle_update publish, got %+v", pub.published)
	}
}

func TestFlushBySizeThreshold(t *testing.T) {
	p := &fakePersister{}
	w := NewWriter(p, &fakePublisher{}, market.NewMetrics(), testLogger(), 2, time.Minute)

	w.Add(context.Background(), candle("BTCUSDT", true))
	if len(p.closedCalls) != 0 {
		t.Fatal("should not flush before reaching max size")
	}
	w.Add(context.Background(), candle("ETHUSDT", true))
	if len(p.closedCalls) != 1 || len(p.closedCalls[0]) != 2 {
		t.Fatalf("expected size-triggered flush of 2 candles, got %+v", p.closedCalls)
	}
}

// mergingPersister models the real ohlcv_candles upsert SQL in memory: a
// closed write overwrites every OHLCV column wholesale, an in-progress write
// only widens high/low via GREATEST/LEAST while still overwriting close and
// volume. Used to catch write-order bugs the call-recording fakePersister
// above cannot see.
type mergingPersister struct {
	rows map[string]models.Candle
}

func (m *mergingPersister) SaveCandlesMerge(ctx context.Context, candles []models.Candle, closed bool) error {
	if m.rows == nil {
		m.rows = make(map[string]models.Candle)
	}
	for _, c := range candles {
		key := c.Symbol + "/" + c.Timeframe + "/" + c.Timestamp.String()
		existing, ok := m.rows[key]
		if !ok || closed {
			m.rows[key] = c
			continue
		}
		if c.High.GreaterThan(existing.High) {
			existing.High = c.High
		}
		if c.Low.LessThan(existing.Low) {
			existing.Low = c.Low
		}
		existing.Close = c.Close
		existing.Volume = c.Volume
		m.rows[key] = existing
	}
	return nil
}

func TestFlushOrdersInProgressBeforeClosedForSameKey(t *testing.T) {
	// spec worked example: in_progress(h=101,l=99,c=100.5),
	// in_progress(h=102,l=98,c=101), closed(h=102,l=98,c=101.5,v=10) all for
	// the same symbol/timeframe/timestamp -> exactly one row,
	// (open=100, high=102, low=98, close=101.5, volume=10). If the closed
	// write lands before either in-progress write, the final close/volume
	// would instead reflect the last in-progress write, not the closed one.
	p := &mergingPersister{}
	w := NewWriter(p, &fakePublisher{}, market.NewMetrics(), testLogger(), 100, time.Second)

	ts := time.Now()
	base := func(high, low, close int64, closedFlag bool) models.Candle {
		return models.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: "1m",
			Timestamp: ts,
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(high),
			Low:       decimal.NewFromInt(low),
			Close:     decimal.New(close, -1),
			Volume:    decimal.NewFromInt(10),
			IsClosed:  closedFlag,
		}
	}

	w.Add(context.Background(), base(101, 99, 1005, false))
	w.Add(context.Background(), base(102, 98, 1010, false))
	w.Add(context.Background(), base(102, 98, 1015, true))
	w.Flush(context.Background())

	key := "BTCUSDT/1m/" + ts.String()
	got, ok := p.rows[key]
	if !ok {
		t.Fatalf("expected a merged row for %s", key)
	}
	want := models.Candle{
		High:   decimal.NewFromInt(102),
		Low:    decimal.NewFromInt(98),
		Close:  decimal.New(1015, -1),
		Volume: decimal.NewFromInt(10),
	}
	if !got.High.Equal(want.High) || !got.Low.Equal(want.Low) || !got.Close.Equal(want.Close) || !got.Volume.Equal(want.Volume) {
		t.Errorf("merged row = %+v, want high=%s low=%s close=%s volume=%s", got, want.High, want.Low, want.Close, want.Volume)
	}
}

func TestFlushClearsBufferOnError(t *testing.T) {
	p := &fakePersister{err: context.DeadlineExceeded}
	w := NewWriter(p, &fakePublisher{}, market.NewMetrics(), testLogger(), 100, time.Second)

	w.Add(context.Background(), candle("BTCUSDT", true))
	w.Flush(context.Background())

	w.mu.Lock()
	size := len(w.buffer)
	w.mu.Unlock()
	if size != 0 {
		t.Errorf("expected buffer cleared after error, got %d items", size)
	}
}
