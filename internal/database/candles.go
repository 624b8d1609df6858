package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"perpfutures-ingestor/internal/apperrors"
	"perpfutures-ingestor/internal/models"
)

// ListRecentCandles returns the most recent limit candles for (symbol,
// timeframe), oldest first — the C2→C8 data-flow arrow from spec §2, which
// the component-design operation list doesn't name explicitly but the
// strategy cycle needs to read its swing-detection input from the
// Persistence Gateway rather than the hot path's in-memory buffer.
func (db *PostgresDB) ListRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	symID, err := db.GetOrCreateSymbol(ctx, symbol, "")
	if err != nil {
		return nil, err
	}
	tfID, ok, err := db.GetTimeframeID(ctx, timeframe)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	const q = `
		SELECT timestamp, open, high, low, close, volume
		FROM ohlcv_candles
		WHERE symbol_id = $1 AND timeframe_id = $2
		ORDER BY timestamp DESC
		LIMIT $3
	`
	rows, err := db.Pool.Query(ctx, q, symID, tfID, limit)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "ListRecentCandles", Err: err}
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		c := models.Candle{Symbol: symbol, Timeframe: timeframe, IsClosed: true}
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, &apperrors.PersistenceError{Op: "ListRecentCandles scan", Err: err}
		}
		out = append(out, c)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SaveCandlesIdempotent inserts candles with ON CONFLICT DO NOTHING, so
// re-inserting a bar that already exists never clobbers a later write from
// the hot path. Nothing in this module calls it: the coordinator runs no
// REST backfill, and ohlcv_candles is written only through SaveCandlesMerge.
func (db *PostgresDB) SaveCandlesIdempotent(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	const q = `
		INSERT INTO ohlcv_candles (symbol_id, timeframe_id, timestamp, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol_id, timeframe_id, timestamp) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, c := range candles {
		symID, err := db.GetOrCreateSymbol(ctx, c.Symbol, "")
		if err != nil {
			return err
		}
		tfID, ok, err := db.GetTimeframeID(ctx, c.Timeframe)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		batch.Queue(q, symID, tfID, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	br := db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range candles {
		if _, err := br.Exec(); err != nil {
			return &apperrors.PersistenceError{Op: "SaveCandlesIdempotent", Err: err}
		}
	}
	return nil
}

// SaveCandlesMerge upserts candles with the closed-vs-in-progress conflict
// policy from §4.6: a closed bar overwrites OHLCV wholesale; an in-progress
// bar preserves the running high/low extremes via GREATEST/LEAST while close
// and volume track the latest observation.
func (db *PostgresDB) SaveCandlesMerge(ctx context.Context, candles []models.Candle, closed bool) error {
	if len(candles) == 0 {
		return nil
	}

	var q string
	if closed {
		q = `
			INSERT INTO ohlcv_candles (symbol_id, timeframe_id, timestamp, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (symbol_id, timeframe_id, timestamp) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume
		`
	} else {
		q = `
			INSERT INTO ohlcv_candles (symbol_id, timeframe_id, timestamp, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (symbol_id, timeframe_id, timestamp) DO UPDATE SET
				high = GREATEST(ohlcv_candles.high, EXCLUDED.high),
				low = LEAST(ohlcv_candles.low, EXCLUDED.low),
				close = EXCLUDED.close,
				volume = EXCLUDED.volume
		`
	}

	batch := &pgx.Batch{}
	queued := 0
	for _, c := range candles {
		symID, err := db.GetOrCreateSymbol(ctx, c.Symbol, "")
		if err != nil {
			return err
		}
		tfID, ok, err := db.GetTimeframeID(ctx, c.Timeframe)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		batch.Queue(q, symID, tfID, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
		queued++
	}

	br := db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return &apperrors.PersistenceError{Op: "SaveCandlesMerge", Err: err}
		}
	}
	return nil
}
