package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"perpfutures-ingestor/internal/apperrors"
	"perpfutures-ingestor/internal/models"
)

// SaveMarketMetrics upserts rows keyed on (symbol_id, timestamp); same-
// timestamp rewrites replace the row wholesale.
func (db *PostgresDB) SaveMarketMetrics(ctx context.Context, rows []models.MarketMetrics) error {
	if len(rows) == 0 {
		return nil
	}

	const q = `
		INSERT INTO market_data (symbol_id, timestamp, market_cap, volume_24h, circulating_supply, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol_id, timestamp) DO UPDATE SET
			market_cap = EXCLUDED.market_cap,
			volume_24h = EXCLUDED.volume_24h,
			circulating_supply = EXCLUDED.circulating_supply,
			price = EXCLUDED.price
	`

	batch := &pgx.Batch{}
	queued := 0
	for _, r := range rows {
		symID, err := db.GetOrCreateSymbol(ctx, r.Symbol, "")
		if err != nil {
			return err
		}
		batch.Queue(q, symID, r.Timestamp.UTC(),
			nullableDecimal(r.MarketCap, r.HasMarketCap),
			nullableDecimal(r.Volume24h, r.HasVolume24h),
			r.CirculatingSupply, r.Price)
		queued++
	}

	br := db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return &apperrors.PersistenceError{Op: "SaveMarketMetrics", Err: err}
		}
	}
	return nil
}

func nullableDecimal(d decimal.Decimal, has bool) *decimal.Decimal {
	if !has {
		return nil
	}
	return &d
}

// ListQualifiedSymbols returns symbols whose latest market_data row has both
// market_cap and volume_24h non-null, ordered by market_cap desc. This is
// the ingestion universe refreshed each cycle.
func (db *PostgresDB) ListQualifiedSymbols(ctx context.Context) ([]string, error) {
	const q = `
		SELECT s.symbol_name
		FROM symbols s
		JOIN LATERAL (
			SELECT market_cap, volume_24h
			FROM market_data md
			WHERE md.symbol_id = s.symbol_id
			ORDER BY md.timestamp DESC
			LIMIT 1
		) latest ON true
		WHERE latest.market_cap IS NOT NULL AND latest.volume_24h IS NOT NULL
		ORDER BY latest.market_cap DESC
	`
	rows, err := db.Pool.Query(ctx, q)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "ListQualifiedSymbols", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &apperrors.PersistenceError{Op: "ListQualifiedSymbols scan", Err: err}
		}
		out = append(out, name)
	}
	return out, nil
}

// ListTrackedSymbols returns every symbol that has at least one market_data
// row, with no null-column filter — unlike ListQualifiedSymbols, this is not
// restricted to the already-qualified universe, so the hourly refresher can
// keep metrics current for a symbol even before it clears the market-cap/
// volume qualification bar.
func (db *PostgresDB) ListTrackedSymbols(ctx context.Context) ([]string, error) {
	const q = `
		SELECT DISTINCT s.symbol_name
		FROM symbols s
		JOIN market_data md ON md.symbol_id = s.symbol_id
		ORDER BY s.symbol_name
	`
	rows, err := db.Pool.Query(ctx, q)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: "ListTrackedSymbols", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &apperrors.PersistenceError{Op: "ListTrackedSymbols scan", Err: err}
		}
		out = append(out, name)
	}
	return out, nil
}
