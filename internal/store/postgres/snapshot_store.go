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

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. The
// full snapshot is kept as JSONB; the indexed columns serve listing.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func (s *SnapshotStore) Append(ctx context.Context, snap domain.PerformanceSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot %q: %w", snap.ID, err)
	}
	const query = `
		INSERT INTO performance_snapshots
			(id, session_id, window_start, window_end, ending_capital, total_return_pct, final, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.pool.Exec(ctx, query,
		snap.ID, snap.SessionID, snap.WindowStart, snap.WindowEnd,
		snap.EndingCapital, snap.TotalReturnPct, snap.Final, payload, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %q: %w", snap.ID, err)
	}
	return nil
}

// ListBySession returns snapshots oldest first.
func (s *SnapshotStore) ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.PerformanceSnapshot, error) {
	query, args := windowClause(
		`SELECT payload FROM performance_snapshots WHERE session_id = $1`,
		[]any{sessionID}, "created_at", opts, "created_at, id")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []domain.PerformanceSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		var snap domain.PerformanceSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list snapshots rows: %w", err)
	}
	return out, nil
}

func (s *SnapshotStore) Latest(ctx context.Context, sessionID string) (domain.PerformanceSnapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM performance_snapshots WHERE session_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PerformanceSnapshot{}, fmt.Errorf("postgres: latest snapshot %q: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PerformanceSnapshot{}, fmt.Errorf("postgres: latest snapshot %q: %w", sessionID, err)
	}
	var snap domain.PerformanceSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.PerformanceSnapshot{}, fmt.Errorf("postgres: unmarshal snapshot: %w", err)
	}
	return snap, nil
}
