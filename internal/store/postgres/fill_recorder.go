package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// FillRecorder writes the session, trade and touched positions of one fill
// in a single transaction.
type FillRecorder struct {
	pool *pgxpool.Pool
}

var _ domain.FillRecorder = (*FillRecorder)(nil)

// NewFillRecorder creates a FillRecorder backed by the given connection pool.
func NewFillRecorder(pool *pgxpool.Pool) *FillRecorder {
	return &FillRecorder{pool: pool}
}

func (r *FillRecorder) RecordFill(ctx context.Context, rec domain.FillRecord) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := upsertSession(ctx, tx, rec.Session); err != nil {
			return err
		}
		if err := insertTrade(ctx, tx, rec.Trade); err != nil {
			return err
		}
		// Closed rows first so the open-position unique index never sees
		// two open rows for the same key during a flip.
		for _, p := range rec.Positions {
			if p.Status != domain.PositionStatusClosed {
				continue
			}
			if err := upsertPosition(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, p := range rec.Positions {
			if p.Status == domain.PositionStatusClosed {
				continue
			}
			if err := upsertPosition(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: record fill %q: %w", rec.Trade.ID, err)
	}
	return nil
}
