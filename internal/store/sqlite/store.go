// Package sqlite implements the domain stores on an embedded SQLite file
// using the pure-Go modernc driver. Rows keep a few indexed columns and the
// full record as JSON.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	status     TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions (owner_id, started_at);

CREATE TABLE IF NOT EXISTS trades (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	session_id  TEXT NOT NULL,
	executed_at INTEGER NOT NULL,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_session ON trades (session_id, executed_at, seq);

CREATE TABLE IF NOT EXISTS positions (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	status     TEXT NOT NULL,
	opened_at  INTEGER NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_session ON positions (session_id, status);

CREATE TABLE IF NOT EXISTS snapshots (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots (session_id, created_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT NOT NULL,
	detail     TEXT,
	created_at INTEGER NOT NULL
);
`

// Store wraps the SQL handle.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ domain.FillRecorder  = (*Store)(nil)
	_ domain.HealthChecker = (*Store)(nil)
)

// Open opens (and creates if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying DB handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Name() string { return "sqlite" }

func (s *Store) HealthCheck(ctx context.Context) error { return s.db.PingContext(ctx) }

// Sessions returns the session table.
func (s *Store) Sessions() *SessionStore { return &SessionStore{db: s.db} }

// Trades returns the trade log.
func (s *Store) Trades() *TradeStore { return &TradeStore{db: s.db} }

// Positions returns the position table.
func (s *Store) Positions() *PositionStore { return &PositionStore{db: s.db} }

// Snapshots returns the snapshot table.
func (s *Store) Snapshots() *SnapshotStore { return &SnapshotStore{db: s.db} }

// Audit returns the audit log.
func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.db, now: s.now} }

// RecordFill commits the session, trade and positions of one fill in a
// single transaction.
func (s *Store) RecordFill(ctx context.Context, rec domain.FillRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: record fill: begin: %w", err)
	}
	defer tx.Rollback()

	if err := upsertSession(ctx, tx, rec.Session); err != nil {
		return err
	}
	if err := insertTrade(ctx, tx, rec.Trade); err != nil {
		return err
	}
	for _, p := range rec.Positions {
		if err := upsertPosition(ctx, tx, p); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: record fill %q: commit: %w", rec.Trade.ID, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// windowClause appends the ListOpts filters for an integer nanosecond
// column.
func windowClause(query string, args []any, col string, opts domain.ListOpts, order string) (string, []any) {
	if opts.Since != nil {
		query += " AND " + col + " >= ?"
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += " AND " + col + " <= ?"
		args = append(args, opts.Until.UnixNano())
	}
	query += " ORDER BY " + order
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}
	return query, args
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// queryPayloads runs query and decodes every payload column into T.
func queryPayloads[T any](ctx context.Context, db *sql.DB, op, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlite: %s: scan: %w", op, err)
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("sqlite: %s: decode: %w", op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s rows: %w", op, err)
	}
	return out, nil
}

func queryPayload[T any](ctx context.Context, db *sql.DB, op, query string, args ...any) (T, error) {
	var v T
	var payload string
	err := db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("sqlite: %s: %w", op, domain.ErrNotFound)
	}
	if err != nil {
		return v, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return v, fmt.Errorf("sqlite: %s: decode: %w", op, err)
	}
	return v, nil
}
