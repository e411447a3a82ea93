package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// ExitMirror implements domain.ExitMirror on the exit_log table.
type ExitMirror struct {
	pool *pgxpool.Pool
}

// NewExitMirror creates an ExitMirror backed by the given connection pool.
func NewExitMirror(pool *pgxpool.Pool) *ExitMirror {
	return &ExitMirror{pool: pool}
}

// Append inserts one exit record. Inserts are idempotent on the record ID so
// a retried mirror write never duplicates a row.
func (m *ExitMirror) Append(ctx context.Context, rec domain.ExitRecord) error {
	const query = `
		INSERT INTO exit_log (
			id, asset_id, market, outcome, reason, trigger_src,
			entry_price, exit_price, size, cost_basis, proceeds,
			realized_pnl, strategy, note, exited_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO NOTHING`
	_, err := m.pool.Exec(ctx, query,
		rec.ID, rec.AssetID, rec.Market, rec.Outcome, string(rec.Reason), rec.Trigger,
		rec.EntryPrice, rec.ExitPrice, rec.Size, rec.CostBasis, rec.Proceeds,
		rec.RealizedPnL, rec.Strategy, rec.Note, rec.At)
	if err != nil {
		return fmt.Errorf("postgres: append exit %s: %w", rec.ID, err)
	}
	return nil
}

var _ domain.ExitMirror = (*ExitMirror)(nil)
