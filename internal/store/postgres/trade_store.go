package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, session_id, position_id, signal_id, strategy, symbol,
	asset_class, direction, requested_quantity, requested_dollar_amount,
	quoted_price, fill_price, quantity, dollar_amount, slippage_pct, slippage_amount,
	commission, stop_loss, take_profit, confidence, expected_return, realized_pnl,
	forced, signal_time, executed_at, latency_ns`

const insertTradeSQL = `
	INSERT INTO trades (` + tradeSelectCols + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`

// Append writes t to the trade log. A duplicate id yields
// domain.ErrAlreadyExists.
func (s *TradeStore) Append(ctx context.Context, t domain.Trade) error {
	return insertTrade(ctx, s.pool, t)
}

func insertTrade(ctx context.Context, db execer, t domain.Trade) error {
	var signalTime *time.Time
	if !t.SignalTime.IsZero() {
		signalTime = &t.SignalTime
	}
	_, err := db.Exec(ctx, insertTradeSQL,
		t.ID, t.SessionID, t.PositionID, t.SignalID, string(t.Strategy), t.Symbol,
		string(t.AssetClass), string(t.Direction), t.RequestedQuantity, t.RequestedDollarAmount,
		t.QuotedPrice, t.FillPrice, t.Quantity, t.DollarAmount, t.SlippagePct, t.SlippageAmount,
		t.Commission, t.StopLoss, t.TakeProfit, t.Confidence, t.ExpectedReturn, t.RealizedPnL,
		t.Forced, signalTime, t.ExecutedAt, int64(t.Latency),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("postgres: insert trade %q: %w", t.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert trade %q: %w", t.ID, err)
	}
	return nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t                               domain.Trade
			strategy, assetClass, direction string
			signalTime                      *time.Time
			latency                         int64
		)
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.PositionID, &t.SignalID, &strategy, &t.Symbol,
			&assetClass, &direction, &t.RequestedQuantity, &t.RequestedDollarAmount,
			&t.QuotedPrice, &t.FillPrice, &t.Quantity, &t.DollarAmount, &t.SlippagePct, &t.SlippageAmount,
			&t.Commission, &t.StopLoss, &t.TakeProfit, &t.Confidence, &t.ExpectedReturn, &t.RealizedPnL,
			&t.Forced, &signalTime, &t.ExecutedAt, &latency,
		); err != nil {
			return nil, err
		}
		t.Strategy = domain.Strategy(strategy)
		t.AssetClass = domain.AssetClass(assetClass)
		t.Direction = domain.Direction(direction)
		if signalTime != nil {
			t.SignalTime = *signalTime
		}
		t.Latency = time.Duration(latency)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListBySession returns the session's trades in execution order.
func (s *TradeStore) ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := windowClause(
		`SELECT `+tradeSelectCols+` FROM trades WHERE session_id = $1`,
		[]any{sessionID}, "executed_at", opts, "executed_at, seq")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for session %q: %w", sessionID, err)
	}
	return trades, nil
}
