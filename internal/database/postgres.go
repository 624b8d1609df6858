// Package database is the Persistence Gateway (C2): idempotent upsert of
// candles, market metrics, and swing points, plus memoized symbol/timeframe
// ID resolution, built on pgx/pgxpool the way the teacher's postgres.go
// lays out pool + transaction + batch usage.
package database

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"perpfutures-ingestor/internal/apperrors"
)

// knownQuoteAssets is tried longest-suffix-first so "BTCUSDT" splits as
// (BTC, USDT) rather than a shorter accidental match.
var knownQuoteAssets = []string{"USDT", "USDC", "BUSD", "BIDR", "BTC", "ETH", "BNB", "USD", "EUR", "TRY"}

func init() {
	sort.Slice(knownQuoteAssets, func(i, j int) bool {
		return len(knownQuoteAssets[i]) > len(knownQuoteAssets[j])
	})
}

// SplitSymbolComponents derives (base, quote) from a full symbol name by
// greedy longest-suffix match against the known quote-asset set, falling
// back to (name, "USD") when nothing matches.
func SplitSymbolComponents(name string) (base, quote string) {
	upper := strings.ToUpper(name)
	for _, q := range knownQuoteAssets {
		if strings.HasSuffix(upper, q) && len(upper) > len(q) {
			return upper[:len(upper)-len(q)], q
		}
	}
	return upper, "USD"
}

// PostgresDB is the Persistence Gateway. Symbol and timeframe IDs are
// memoized in-process; writes to the caches only happen on first resolution
// and are idempotent.
type PostgresDB struct {
	Pool *pgxpool.Pool

	mu            sync.RWMutex
	symbolIDs     map[string]int64
	timeframeIDs  map[string]int64
}

func NewPostgresDB(ctx context.Context, connString string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, &apperrors.FatalError{Op: "database.NewPostgresDB", Err: err}
	}
	return &PostgresDB{
		Pool:         pool,
		symbolIDs:    make(map[string]int64),
		timeframeIDs: make(map[string]int64),
	}, nil
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}

// GetOrCreateSymbol resolves name to a symbol_id, upserting a new row (and
// deriving base/quote) on first observation. image_path is updated only if
// the new value is non-empty and differs from the stored one.
func (db *PostgresDB) GetOrCreateSymbol(ctx context.Context, name string, imagePath string) (int64, error) {
	db.mu.RLock()
	if id, ok := db.symbolIDs[name]; ok {
		db.mu.RUnlock()
		return id, nil
	}
	db.mu.RUnlock()

	base, quote := SplitSymbolComponents(name)

	const q = `
		INSERT INTO symbols (symbol_name, base_asset, quote_asset, image_path, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), now())
		ON CONFLICT (symbol_name) DO UPDATE SET
			image_path = CASE
				WHEN NULLIF($4, '') IS NOT NULL AND symbols.image_path IS DISTINCT FROM $4
				THEN $4 ELSE symbols.image_path
			END,
			updated_at = now()
		RETURNING symbol_id
	`

	var id int64
	if err := db.Pool.QueryRow(ctx, q, name, base, quote, imagePath).Scan(&id); err != nil {
		return 0, &apperrors.PersistenceError{Op: "GetOrCreateSymbol", Err: err}
	}

	db.mu.Lock()
	db.symbolIDs[name] = id
	db.mu.Unlock()

	return id, nil
}

// GetTimeframeID resolves a timeframe name (e.g. "15m") to its ID, memoized.
// Returns (0, false) if the timeframe isn't registered in the fixed schema.
func (db *PostgresDB) GetTimeframeID(ctx context.Context, name string) (int64, bool, error) {
	db.mu.RLock()
	if id, ok := db.timeframeIDs[name]; ok {
		db.mu.RUnlock()
		return id, true, nil
	}
	db.mu.RUnlock()

	const q = `SELECT timeframe_id FROM timeframe WHERE tf_name = $1`
	var id int64
	err := db.Pool.QueryRow(ctx, q, name).Scan(&id)
	if err != nil {
		return 0, false, nil
	}

	db.mu.Lock()
	db.timeframeIDs[name] = id
	db.mu.Unlock()

	return id, true, nil
}

// ListTimeframesAscBySeconds returns every registered timeframe ordered by
// seconds ascending — the canonical higher-to-lower ordering used by the
// confluence confirmer.
func (db *PostgresDB) ListTimeframesAscBySeconds(ctx context.Context) ([]TimeframeRow, error) {
	const q = `SELECT timeframe_id, tf_name, seconds FROM timeframe ORDER BY seconds ASC`
	rows, err := db.Pool.Query(ctx, q)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "ListTimeframesAscBySeconds", Err: err}
	}
	defer rows.Close()

	var out []TimeframeRow
	for rows.Next() {
		var tf TimeframeRow
		if err := rows.Scan(&tf.ID, &tf.Name, &tf.Seconds); err != nil {
			return nil, &apperrors.PersistenceError{Op: "ListTimeframesAscBySeconds scan", Err: err}
		}
		out = append(out, tf)
	}
	return out, nil
}

// TimeframeRow is a row from the timeframe table.
type TimeframeRow struct {
	ID      int64
	Name    string
	Seconds int64
}
