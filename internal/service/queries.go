package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/ledger"
)

// GetSession returns a session, live or finished.
func (s *SessionService) GetSession(ctx context.Context, id string) (domain.Session, error) {
	if rt, ok := s.lookup(id); ok {
		return rt.view.Load().session, nil
	}
	sess, err := s.stores.Sessions.GetByID(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session: get %q: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns the sessions of owner, newest first.
func (s *SessionService) ListSessions(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Session, error) {
	sessions, err := s.stores.Sessions.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("session: list for %q: %w", owner, err)
	}
	return sessions, nil
}

// LiveSessions returns the sessions this process is running.
func (s *SessionService) LiveSessions() []domain.Session {
	rts := s.live()
	out := make([]domain.Session, len(rts))
	for i, rt := range rts {
		out[i] = rt.view.Load().session
	}
	return out
}

// LiveCount returns how many sessions this process is running.
func (s *SessionService) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// GetPortfolioStatus returns the session, its totals and its open
// positions. Finished sessions are rebuilt from the store.
func (s *SessionService) GetPortfolioStatus(ctx context.Context, id string) (domain.PortfolioStatus, error) {
	if rt, ok := s.lookup(id); ok {
		v := rt.view.Load()
		return domain.PortfolioStatus{
			Session:   v.session,
			Totals:    v.totals,
			Positions: v.open,
			DailyPnL:  v.dailyPnL,
			AsOf:      v.asOf,
		}, nil
	}

	sess, l, err := s.restore(ctx, id)
	if err != nil {
		return domain.PortfolioStatus{}, err
	}
	now := s.now().UTC()
	return domain.PortfolioStatus{
		Session:   sess,
		Totals:    l.Totals(),
		Positions: l.OpenPositions(),
		DailyPnL:  s.risk.DailyPnL(l, now),
		AsOf:      now,
	}, nil
}

// GetPerformanceSummary returns the session's statistics as of now. For a
// finished session it is the final snapshot.
func (s *SessionService) GetPerformanceSummary(ctx context.Context, id string) (domain.PerformanceSnapshot, error) {
	if rt, ok := s.lookup(id); ok {
		v := rt.view.Load()
		return s.snapshotOf(rt, v, s.now().UTC()), nil
	}

	snap, err := s.stores.Snapshots.Latest(ctx, id)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.PerformanceSnapshot{}, fmt.Errorf("session: latest snapshot for %q: %w", id, err)
	}

	sess, l, err := s.restore(ctx, id)
	if err != nil {
		return domain.PerformanceSnapshot{}, err
	}
	rt := &sessionRuntime{session: sess, ledger: l, analyzer: s.newAnalyzer()}
	s.refreshView(rt)
	return s.snapshotOf(rt, rt.view.Load(), s.now().UTC()), nil
}

// GetPerformanceSince returns statistics over the trades executed and the
// positions closed at or after since. Ending capital stays session-to-date.
func (s *SessionService) GetPerformanceSince(ctx context.Context, id string, since time.Time) (domain.PerformanceSnapshot, error) {
	now := s.now().UTC()
	if rt, ok := s.lookup(id); ok {
		return s.snapshotSince(rt, rt.view.Load(), since, now), nil
	}

	sess, l, err := s.restore(ctx, id)
	if err != nil {
		return domain.PerformanceSnapshot{}, err
	}
	rt := &sessionRuntime{session: sess, ledger: l, analyzer: s.newAnalyzer()}
	s.refreshView(rt)
	if sess.EndedAt != nil {
		now = *sess.EndedAt
	}
	return s.snapshotSince(rt, rt.view.Load(), since, now), nil
}

// TakeSnapshot computes a snapshot of a live session, adds it to the
// rolling buffer and persists it.
func (s *SessionService) TakeSnapshot(ctx context.Context, id string) (domain.PerformanceSnapshot, error) {
	rt, err := s.runtime(id)
	if err != nil {
		return domain.PerformanceSnapshot{}, err
	}
	v := rt.view.Load()
	snap := s.snapshotOf(rt, v, s.now().UTC())
	if err := s.stores.Snapshots.Append(ctx, snap); err != nil {
		return domain.PerformanceSnapshot{}, fmt.Errorf("session: append snapshot for %q: %w", id, err)
	}
	rt.analyzer.Record(snap)
	return snap, nil
}

// SnapshotHistory returns the rolling buffer of a live session, oldest
// first.
func (s *SessionService) SnapshotHistory(id string) ([]domain.PerformanceSnapshot, error) {
	rt, err := s.runtime(id)
	if err != nil {
		return nil, err
	}
	return rt.analyzer.History(), nil
}

// ListTrades returns the trades of a session in execution order.
func (s *SessionService) ListTrades(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.stores.Trades.ListBySession(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("session: list trades for %q: %w", id, err)
	}
	return trades, nil
}

// ListPositions returns the positions of a session with the given status;
// an empty status returns all.
func (s *SessionService) ListPositions(ctx context.Context, id string, status domain.PositionStatus) ([]domain.Position, error) {
	positions, err := s.stores.Positions.ListBySession(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("session: list positions for %q: %w", id, err)
	}
	return positions, nil
}

// ListSnapshots returns the persisted snapshots of a session, oldest first.
func (s *SessionService) ListSnapshots(ctx context.Context, id string, opts domain.ListOpts) ([]domain.PerformanceSnapshot, error) {
	snaps, err := s.stores.Snapshots.ListBySession(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("session: list snapshots for %q: %w", id, err)
	}
	return snaps, nil
}

// ListAudit returns audit entries, newest first.
func (s *SessionService) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.stores.Audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("session: list audit: %w", err)
	}
	return entries, nil
}

// restore rebuilds the ledger of a stored session.
func (s *SessionService) restore(ctx context.Context, id string) (domain.Session, *ledger.Ledger, error) {
	sess, err := s.stores.Sessions.GetByID(ctx, id)
	if err != nil {
		return domain.Session{}, nil, fmt.Errorf("session: get %q: %w", id, err)
	}
	positions, err := s.stores.Positions.ListBySession(ctx, id, "")
	if err != nil {
		return domain.Session{}, nil, fmt.Errorf("session: positions of %q: %w", id, err)
	}
	trades, err := s.stores.Trades.ListBySession(ctx, id, domain.ListOpts{})
	if err != nil {
		return domain.Session{}, nil, fmt.Errorf("session: trades of %q: %w", id, err)
	}
	l, err := ledger.Restore(id, sess.InitialCapital, positions, trades)
	if err != nil {
		return domain.Session{}, nil, fmt.Errorf("session: restore %q: %w", id, err)
	}
	return sess, l, nil
}
