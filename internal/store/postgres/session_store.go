package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

var _ domain.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a new SessionStore backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionSelectCols = `id, owner_id, status, initial_capital, current_capital,
	available_capital, realized_pnl, commissions, trade_count, limits, strategies,
	risk_free_rate, started_at, ended_at, end_reason, updated_at`

const upsertSessionSQL = `
	INSERT INTO sessions (` + sessionSelectCols + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		current_capital = EXCLUDED.current_capital,
		available_capital = EXCLUDED.available_capital,
		realized_pnl = EXCLUDED.realized_pnl,
		commissions = EXCLUDED.commissions,
		trade_count = EXCLUDED.trade_count,
		limits = EXCLUDED.limits,
		strategies = EXCLUDED.strategies,
		ended_at = EXCLUDED.ended_at,
		end_reason = EXCLUDED.end_reason,
		updated_at = EXCLUDED.updated_at`

// Upsert inserts the session or updates its mutable columns.
func (s *SessionStore) Upsert(ctx context.Context, sess domain.Session) error {
	return upsertSession(ctx, s.pool, sess)
}

func upsertSession(ctx context.Context, db execer, sess domain.Session) error {
	limits, err := json.Marshal(sess.Limits)
	if err != nil {
		return fmt.Errorf("postgres: marshal session limits: %w", err)
	}
	strategies := make([]string, len(sess.Strategies))
	for i, st := range sess.Strategies {
		strategies[i] = string(st)
	}
	_, err = db.Exec(ctx, upsertSessionSQL,
		sess.ID, sess.OwnerID, string(sess.Status), sess.InitialCapital, sess.CurrentCapital,
		sess.AvailableCapital, sess.RealizedPnL, sess.Commissions, sess.TradeCount, limits, strategies,
		sess.RiskFreeRate, sess.StartedAt, sess.EndedAt, sess.EndReason, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert session %q: %w", sess.ID, err)
	}
	return nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		sess       domain.Session
		status     string
		limits     []byte
		strategies []string
	)
	if err := row.Scan(
		&sess.ID, &sess.OwnerID, &status, &sess.InitialCapital, &sess.CurrentCapital,
		&sess.AvailableCapital, &sess.RealizedPnL, &sess.Commissions, &sess.TradeCount, &limits, &strategies,
		&sess.RiskFreeRate, &sess.StartedAt, &sess.EndedAt, &sess.EndReason, &sess.UpdatedAt,
	); err != nil {
		return domain.Session{}, err
	}
	sess.Status = domain.SessionStatus(status)
	if err := json.Unmarshal(limits, &sess.Limits); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal limits: %w", err)
	}
	for _, st := range strategies {
		sess.Strategies = append(sess.Strategies, domain.Strategy(st))
	}
	return sess, nil
}

// GetByID returns the session or domain.ErrNotFound.
func (s *SessionStore) GetByID(ctx context.Context, id string) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionSelectCols+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("postgres: get session %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("postgres: get session %q: %w", id, err)
	}
	return sess, nil
}

// ListByOwner returns the owner's sessions, newest first.
func (s *SessionStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Session, error) {
	query, args := windowClause(
		`SELECT `+sessionSelectCols+` FROM sessions WHERE owner_id = $1`,
		[]any{ownerID}, "started_at", opts, "started_at DESC, id")
	return s.list(ctx, "list sessions by owner", query, args...)
}

// ListLive returns every active or paused session.
func (s *SessionStore) ListLive(ctx context.Context) ([]domain.Session, error) {
	return s.list(ctx, "list live sessions",
		`SELECT `+sessionSelectCols+` FROM sessions WHERE status IN ('active', 'paused') ORDER BY started_at, id`)
}

func (s *SessionStore) list(ctx context.Context, op, query string, args ...any) ([]domain.Session, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}
