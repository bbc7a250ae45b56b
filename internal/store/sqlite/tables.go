package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// SessionStore implements domain.SessionStore.
type SessionStore struct{ db *sql.DB }

var _ domain.SessionStore = (*SessionStore)(nil)

func upsertSession(ctx context.Context, db execer, sess domain.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sqlite: encode session %q: %w", sess.ID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, status, started_at, payload) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, payload = excluded.payload`,
		sess.ID, sess.OwnerID, string(sess.Status), nanos(sess.StartedAt), string(payload))
	if err != nil {
		return fmt.Errorf("sqlite: upsert session %q: %w", sess.ID, err)
	}
	return nil
}

func (s *SessionStore) Upsert(ctx context.Context, sess domain.Session) error {
	return upsertSession(ctx, s.db, sess)
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (domain.Session, error) {
	return queryPayload[domain.Session](ctx, s.db, fmt.Sprintf("get session %q", id),
		`SELECT payload FROM sessions WHERE id = ?`, id)
}

// ListByOwner returns the owner's sessions, newest first.
func (s *SessionStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Session, error) {
	query, args := windowClause(`SELECT payload FROM sessions WHERE owner_id = ?`,
		[]any{ownerID}, "started_at", opts, "started_at DESC, id")
	return queryPayloads[domain.Session](ctx, s.db, "list sessions by owner", query, args...)
}

func (s *SessionStore) ListLive(ctx context.Context) ([]domain.Session, error) {
	return queryPayloads[domain.Session](ctx, s.db, "list live sessions",
		`SELECT payload FROM sessions WHERE status IN ('active', 'paused') ORDER BY started_at, id`)
}

// TradeStore implements domain.TradeStore.
type TradeStore struct{ db *sql.DB }

var _ domain.TradeStore = (*TradeStore)(nil)

func insertTrade(ctx context.Context, db execer, t domain.Trade) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("sqlite: encode trade %q: %w", t.ID, err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO trades (id, session_id, executed_at, payload) VALUES (?, ?, ?, ?)`,
		t.ID, t.SessionID, nanos(t.ExecutedAt), string(payload))
	if isUniqueViolation(err) {
		return fmt.Errorf("sqlite: insert trade %q: %w", t.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("sqlite: insert trade %q: %w", t.ID, err)
	}
	return nil
}

func (s *TradeStore) Append(ctx context.Context, t domain.Trade) error {
	return insertTrade(ctx, s.db, t)
}

// ListBySession returns trades in execution order.
func (s *TradeStore) ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := windowClause(`SELECT payload FROM trades WHERE session_id = ?`,
		[]any{sessionID}, "executed_at", opts, "executed_at, seq")
	return queryPayloads[domain.Trade](ctx, s.db, "list trades", query, args...)
}

// PositionStore implements domain.PositionStore.
type PositionStore struct{ db *sql.DB }

var _ domain.PositionStore = (*PositionStore)(nil)

func upsertPosition(ctx context.Context, db execer, p domain.Position) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sqlite: encode position %q: %w", p.ID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO positions (id, session_id, status, opened_at, payload) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, payload = excluded.payload`,
		p.ID, p.SessionID, string(p.Status), nanos(p.OpenedAt), string(payload))
	if err != nil {
		return fmt.Errorf("sqlite: upsert position %q: %w", p.ID, err)
	}
	return nil
}

func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	return upsertPosition(ctx, s.db, p)
}

func (s *PositionStore) ListBySession(ctx context.Context, sessionID string, status domain.PositionStatus) ([]domain.Position, error) {
	query := `SELECT payload FROM positions WHERE session_id = ?`
	args := []any{sessionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY opened_at, id`
	return queryPayloads[domain.Position](ctx, s.db, "list positions", query, args...)
}

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct{ db *sql.DB }

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

func (s *SnapshotStore) Append(ctx context.Context, snap domain.PerformanceSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: encode snapshot %q: %w", snap.ID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, session_id, created_at, payload) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.SessionID, nanos(snap.CreatedAt), string(payload)); err != nil {
		return fmt.Errorf("sqlite: insert snapshot %q: %w", snap.ID, err)
	}
	return nil
}

func (s *SnapshotStore) ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.PerformanceSnapshot, error) {
	query, args := windowClause(`SELECT payload FROM snapshots WHERE session_id = ?`,
		[]any{sessionID}, "created_at", opts, "created_at, seq")
	return queryPayloads[domain.PerformanceSnapshot](ctx, s.db, "list snapshots", query, args...)
}

func (s *SnapshotStore) Latest(ctx context.Context, sessionID string) (domain.PerformanceSnapshot, error) {
	return queryPayload[domain.PerformanceSnapshot](ctx, s.db, fmt.Sprintf("latest snapshot %q", sessionID),
		`SELECT payload FROM snapshots WHERE session_id = ? ORDER BY created_at DESC, seq DESC LIMIT 1`, sessionID)
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ domain.AuditStore = (*AuditStore)(nil)

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), s.now().UnixNano()); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := windowClause(`SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`,
		nil, "created_at", opts, "created_at DESC, id DESC")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail sql.NullString
			at     int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid && detail.String != "null" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		e.CreatedAt = time.Unix(0, at).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries rows: %w", err)
	}
	return entries, nil
}
