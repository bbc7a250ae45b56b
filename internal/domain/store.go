package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SessionStore persists sessions.
type SessionStore interface {
	Upsert(ctx context.Context, s Session) error
	GetByID(ctx context.Context, id string) (Session, error)
	ListByOwner(ctx context.Context, ownerID string, opts ListOpts) ([]Session, error)
	ListLive(ctx context.Context) ([]Session, error)
}

// TradeStore persists the append-only trade log.
type TradeStore interface {
	Append(ctx context.Context, t Trade) error
	// ListBySession returns trades in execution order.
	ListBySession(ctx context.Context, sessionID string, opts ListOpts) ([]Trade, error)
}

// PositionStore persists positions keyed by id; at most one open position
// exists per (session, symbol, strategy).
type PositionStore interface {
	Upsert(ctx context.Context, p Position) error
	// ListBySession filters by status; an empty status returns all.
	ListBySession(ctx context.Context, sessionID string, status PositionStatus) ([]Position, error)
}

// SnapshotStore persists performance snapshots.
type SnapshotStore interface {
	Append(ctx context.Context, s PerformanceSnapshot) error
	ListBySession(ctx context.Context, sessionID string, opts ListOpts) ([]PerformanceSnapshot, error)
	Latest(ctx context.Context, sessionID string) (PerformanceSnapshot, error)
}

// FillRecord is everything one applied fill changes.
type FillRecord struct {
	Session   Session
	Trade     Trade
	Positions []Position
}

// FillRecorder commits a FillRecord atomically: either every row lands or
// none does.
type FillRecorder interface {
	RecordFill(ctx context.Context, rec FillRecord) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
