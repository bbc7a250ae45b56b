package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, session_id, symbol, strategy, asset_class, quantity,
	average_price, current_price, current_value, invested_amount, unrealized_pnl,
	realized_pnl, entry_value, closed_quantity, exit_price, stop_loss, take_profit,
	status, opened_at, closed_at, updated_at`

const upsertPositionSQL = `
	INSERT INTO positions (` + positionSelectCols + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		$12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	ON CONFLICT (id) DO UPDATE SET
		quantity = EXCLUDED.quantity,
		average_price = EXCLUDED.average_price,
		current_price = EXCLUDED.current_price,
		current_value = EXCLUDED.current_value,
		invested_amount = EXCLUDED.invested_amount,
		unrealized_pnl = EXCLUDED.unrealized_pnl,
		realized_pnl = EXCLUDED.realized_pnl,
		entry_value = EXCLUDED.entry_value,
		closed_quantity = EXCLUDED.closed_quantity,
		exit_price = EXCLUDED.exit_price,
		stop_loss = EXCLUDED.stop_loss,
		take_profit = EXCLUDED.take_profit,
		status = EXCLUDED.status,
		closed_at = EXCLUDED.closed_at,
		updated_at = EXCLUDED.updated_at`

// Upsert inserts or updates a position by id.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	return upsertPosition(ctx, s.pool, p)
}

func upsertPosition(ctx context.Context, db execer, p domain.Position) error {
	_, err := db.Exec(ctx, upsertPositionSQL,
		p.ID, p.SessionID, p.Symbol, string(p.Strategy), string(p.AssetClass), p.Quantity,
		p.AveragePrice, p.CurrentPrice, p.CurrentValue, p.InvestedAmount, p.UnrealizedPnL,
		p.RealizedPnL, p.EntryValue, p.ClosedQuantity, p.ExitPrice, p.StopLoss, p.TakeProfit,
		string(p.Status), p.OpenedAt, p.ClosedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %q: %w", p.ID, err)
	}
	return nil
}

// ListBySession returns the session's positions with the given status, or
// all of them when status is empty, in open order.
func (s *PositionStore) ListBySession(ctx context.Context, sessionID string, status domain.PositionStatus) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE session_id = $1`
	args := []any{sessionID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY opened_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var (
			p                               domain.Position
			strategy, assetClass, posStatus string
		)
		if err := rows.Scan(
			&p.ID, &p.SessionID, &p.Symbol, &strategy, &assetClass, &p.Quantity,
			&p.AveragePrice, &p.CurrentPrice, &p.CurrentValue, &p.InvestedAmount, &p.UnrealizedPnL,
			&p.RealizedPnL, &p.EntryValue, &p.ClosedQuantity, &p.ExitPrice, &p.StopLoss, &p.TakeProfit,
			&posStatus, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Strategy = domain.Strategy(strategy)
		p.AssetClass = domain.AssetClass(assetClass)
		p.Status = domain.PositionStatus(posStatus)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}
