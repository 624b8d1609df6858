// Package batch is the Batch Writer (C6): it accumulates candle events in a
// time- and size-bounded buffer and flushes closed vs in-progress candles
// through separate Persistence Gateway conflict policies. Grounded on
// original_source/services/ingestion-service/main.py's
// _batch_insert_candles and spec §4.6.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"perpfutures-ingestor/internal/eventbus"
	"perpfutures-ingestor/internal/market"
	"perpfutures-ingestor/internal/models"
)

// Persister is the subset of the Persistence Gateway the writer needs.
type Persister interface {
	SaveCandlesMerge(ctx context.Context, candles []models.Candle, closed bool) error
}

type Writer struct {
	persister Persister
	publisher eventbus.Publisher
	metrics   *market.Metrics
	logger    *slog.Logger

	maxSize    int
	maxAge     time.Duration

	mu     sync.Mutex
	buffer []models.Candle
	lastFlush time.Time
}

func NewWriter(persister Persister, publisher eventbus.Publisher, metrics *market.Metrics, logger *slog.Logger, maxSize int, maxAge time.Duration) *Writer {
	return &Writer{
		persister: persister,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		maxSize:   maxSize,
		maxAge:    maxAge,
		lastFlush: time.Now(),
	}
}

// Add appends a candle to the buffer and flushes if the size threshold is
// reached.
func (w *Writer) Add(ctx context.Context, c models.Candle) {
	w.mu.Lock()
	w.buffer = append(w.buffer, c)
	size := len(w.buffer)
	w.metrics.SetBatchBufferSize(size)
	w.mu.Unlock()

	if size >= w.maxSize {
		w.Flush(ctx)
	}
}

// Run ticks every maxAge/4 (so the age-based flush fires within one
// maxAge window of becoming due) until ctx is cancelled, at which point it
// performs one final flush before returning.
func (w *Writer) Run(ctx context.Context) {
	interval := w.maxAge / 4
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush(context.Background())
			return
		case <-ticker.C:
			w.mu.Lock()
			due := time.Since(w.lastFlush) >= w.maxAge && len(w.buffer) > 0
			w.mu.Unlock()
			if due {
				w.Flush(ctx)
			}
		}
	}
}

// Flush partitions the buffer into closed/in-progress candles and writes
// each partition with its own conflict policy. A zero-length buffer is a
// no-op that never touches the DB. On any DB error the buffer is cleared
// without retry — klines are idempotent and the exchange will re-emit them.
func (w *Writer) Flush(ctx context.Context) {
	w.mu.Lock()
	pending := w.buffer
	w.buffer = nil
	w.lastFlush = time.Now()
	w.metrics.SetBatchBufferSize(0)
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	var closed, inProgress []models.Candle
	for _, c := range pending {
		if c.IsClosed {
			closed = append(closed, c)
		} else {
			inProgress = append(inProgress, c)
		}
	}

	// In-progress candles write first: if a closed and an in-progress candle
	// for the same symbol/timeframe/timestamp land in one flush (a kline
	// closes mid-batch), the closed write must be the last one to touch that
	// row so its full OHLCV overwrite — not the in-progress GREATEST/LEAST
	// merge — is what survives.
	if len(inProgress) > 0 {
		if err := w.persister.SaveCandlesMerge(ctx, inProgress, false); err != nil {
			w.logger.Error("batch: in-progress flush failed", "error", err, "count", len(inProgress))
			return
		}
	}

	if len(closed) > 0 {
		if err := w.persister.SaveCandlesMerge(ctx, closed, true); err != nil {
			w.logger.Error("batch: closed-candle flush failed", "error", err, "count", len(closed))
			return
		}
		for _, c := range closed {
			w.publisher.Publish(ctx, eventbus.ChannelCandleUpdate, candleUpdatePayload(c))
		}
	}

	w.metrics.AddBatchFlushed(len(pending))
}

func candleUpdatePayload(c models.Candle) map[string]any {
	return map[string]any{
		"symbol":    c.Symbol,
		"timeframe": c.Timeframe,
		"timestamp": c.Timestamp.UTC(),
	}
}
