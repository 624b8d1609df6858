package database

import (
	"context"

	"perpfutures-ingestor/internal/apperrors"
	"perpfutures-ingestor/internal/models"
)

// SaveAlert idempotently inserts an alert row. Duplicate (asset, timeframe,
// swing_low_ts, swing_high_ts, trend_type) tuples are suppressed at the
// conflict target so a re-run of the strategy cycle over the same swings
// never double-emits.
func (db *PostgresDB) SaveAlert(ctx context.Context, a models.Alert) error {
	const q = `
		INSERT INTO trading_signals (
			asset, timeframe, trend_type, entry_level, sl, tp1, tp2, tp3,
			swing_low_price, swing_high_price, swing_low_ts, swing_high_ts, risk_score
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (asset, timeframe, trend_type, swing_low_ts, swing_high_ts) DO NOTHING
	`
	_, err := db.Pool.Exec(ctx, q,
		a.Asset, a.Timeframe, string(a.TrendType), a.EntryLevel, a.SL, a.TP1, a.TP2, a.TP3,
		a.SwingLowPrice, a.SwingHighPrice, a.SwingLowTS.UTC(), a.SwingHighTS.UTC(), a.RiskScore,
	)
	if err != nil {
		return &apperrors.PersistenceError{Op: "SaveAlert", Err: err}
	}
	return nil
}

// SaveSwingPoints idempotently inserts derived swing points for a
// (symbol, timeframe) pair.
func (db *PostgresDB) SaveSwingPoints(ctx context.Context, symbol, timeframe string, points []models.SwingPoint) error {
	if len(points) == 0 {
		return nil
	}
	symID, err := db.GetOrCreateSymbol(ctx, symbol, "")
	if err != nil {
		return err
	}
	tfID, ok, err := db.GetTimeframeID(ctx, timeframe)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	const q = `
		INSERT INTO swing_points (symbol_id, timeframe_id, timestamp, price, type, strength)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (symbol_id, timeframe_id, timestamp, type) DO NOTHING
	`
	for _, p := range points {
		if _, err := db.Pool.Exec(ctx, q, symID, tfID, p.Timestamp.UTC(), p.Price, string(p.Type), p.Strength); err != nil {
			return &apperrors.PersistenceError{Op: "SaveSwingPoints", Err: err}
		}
	}
	return nil
}
