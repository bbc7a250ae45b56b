// Package memory implements the domain stores in process memory. It backs
// the "memory" store driver and the service tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// Store holds every table behind one lock so RecordFill can commit a
// session, a trade and its positions together.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]domain.Session
	trades    map[string][]domain.Trade
	positions map[string]map[string]domain.Position
	snapshots map[string][]domain.PerformanceSnapshot
	audit     []domain.AuditEntry
	now       func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions:  make(map[string]domain.Session),
		trades:    make(map[string][]domain.Trade),
		positions: make(map[string]map[string]domain.Position),
		snapshots: make(map[string][]domain.PerformanceSnapshot),
		now:       time.Now,
	}
}

var _ domain.FillRecorder = (*Store)(nil)

// RecordFill commits rec in one critical section.
func (s *Store) RecordFill(ctx context.Context, rec domain.FillRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: record fill: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.Session.ID] = cloneSession(rec.Session)
	s.trades[rec.Trade.SessionID] = append(s.trades[rec.Trade.SessionID], rec.Trade)
	for _, p := range rec.Positions {
		s.putPosition(p)
	}
	return nil
}

func (s *Store) putPosition(p domain.Position) {
	m := s.positions[p.SessionID]
	if m == nil {
		m = make(map[string]domain.Position)
		s.positions[p.SessionID] = m
	}
	m[p.ID] = p
}

// Sessions returns the session table.
func (s *Store) Sessions() *SessionStore { return &SessionStore{s: s} }

// Trades returns the trade log.
func (s *Store) Trades() *TradeStore { return &TradeStore{s: s} }

// Positions returns the position table.
func (s *Store) Positions() *PositionStore { return &PositionStore{s: s} }

// Snapshots returns the snapshot table.
func (s *Store) Snapshots() *SnapshotStore { return &SnapshotStore{s: s} }

// Audit returns the audit log.
func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

// SessionStore implements domain.SessionStore.
type SessionStore struct{ s *Store }

var _ domain.SessionStore = (*SessionStore)(nil)

func (st *SessionStore) Upsert(_ context.Context, sess domain.Session) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	st.s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (st *SessionStore) GetByID(_ context.Context, id string) (domain.Session, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	sess, ok := st.s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("memory: get session %q: %w", id, domain.ErrNotFound)
	}
	return cloneSession(sess), nil
}

// ListByOwner returns the owner's sessions, newest first.
func (st *SessionStore) ListByOwner(_ context.Context, ownerID string, opts domain.ListOpts) ([]domain.Session, error) {
	st.s.mu.RLock()
	var out []domain.Session
	for _, sess := range st.s.sessions {
		if sess.OwnerID == ownerID && inWindow(sess.StartedAt, opts) {
			out = append(out, cloneSession(sess))
		}
	}
	st.s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Session) int {
		return cmp.Or(b.StartedAt.Compare(a.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	return paginate(out, opts), nil
}

func (st *SessionStore) ListLive(_ context.Context) ([]domain.Session, error) {
	st.s.mu.RLock()
	var out []domain.Session
	for _, sess := range st.s.sessions {
		if sess.Status.Live() {
			out = append(out, cloneSession(sess))
		}
	}
	st.s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Session) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// TradeStore implements domain.TradeStore.
type TradeStore struct{ s *Store }

var _ domain.TradeStore = (*TradeStore)(nil)

func (st *TradeStore) Append(_ context.Context, t domain.Trade) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.trades[t.SessionID] {
		if existing.ID == t.ID {
			return fmt.Errorf("memory: append trade %q: %w", t.ID, domain.ErrAlreadyExists)
		}
	}
	st.s.trades[t.SessionID] = append(st.s.trades[t.SessionID], t)
	return nil
}

func (st *TradeStore) ListBySession(_ context.Context, sessionID string, opts domain.ListOpts) ([]domain.Trade, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range st.s.trades[sessionID] {
		if inWindow(t.ExecutedAt, opts) {
			out = append(out, t)
		}
	}
	return paginate(out, opts), nil
}

// PositionStore implements domain.PositionStore.
type PositionStore struct{ s *Store }

var _ domain.PositionStore = (*PositionStore)(nil)

func (st *PositionStore) Upsert(_ context.Context, p domain.Position) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	st.s.putPosition(p)
	return nil
}

func (st *PositionStore) ListBySession(_ context.Context, sessionID string, status domain.PositionStatus) ([]domain.Position, error) {
	st.s.mu.RLock()
	out := make([]domain.Position, 0, len(st.s.positions[sessionID]))
	for _, p := range st.s.positions[sessionID] {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	st.s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Position) int {
		return cmp.Or(a.OpenedAt.Compare(b.OpenedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct{ s *Store }

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

func (st *SnapshotStore) Append(_ context.Context, snap domain.PerformanceSnapshot) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	snap.ByStrategy = maps.Clone(snap.ByStrategy)
	st.s.snapshots[snap.SessionID] = append(st.s.snapshots[snap.SessionID], snap)
	return nil
}

// ListBySession returns snapshots oldest first.
func (st *SnapshotStore) ListBySession(_ context.Context, sessionID string, opts domain.ListOpts) ([]domain.PerformanceSnapshot, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []domain.PerformanceSnapshot
	for _, snap := range st.s.snapshots[sessionID] {
		if inWindow(snap.CreatedAt, opts) {
			out = append(out, snap)
		}
	}
	return paginate(out, opts), nil
}

func (st *SnapshotStore) Latest(_ context.Context, sessionID string) (domain.PerformanceSnapshot, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	snaps := st.s.snapshots[sessionID]
	if len(snaps) == 0 {
		return domain.PerformanceSnapshot{}, fmt.Errorf("memory: latest snapshot %q: %w", sessionID, domain.ErrNotFound)
	}
	return snaps[len(snaps)-1], nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

var _ domain.AuditStore = (*AuditStore)(nil)

func (st *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	st.s.audit = append(st.s.audit, domain.AuditEntry{
		ID:        int64(len(st.s.audit) + 1),
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: st.s.now(),
	})
	return nil
}

// List returns audit entries newest first.
func (st *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	st.s.mu.RLock()
	var out []domain.AuditEntry
	for i := len(st.s.audit) - 1; i >= 0; i-- {
		if e := st.s.audit[i]; inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	st.s.mu.RUnlock()
	return paginate(out, opts), nil
}

func cloneSession(s domain.Session) domain.Session {
	s.Strategies = slices.Clone(s.Strategies)
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}

func inWindow(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && ts.After(*opts.Until) {
		return false
	}
	return true
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
