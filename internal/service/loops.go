package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// quoteConcurrency bounds the parallel price lookups of one mark pass.
const quoteConcurrency = 8

// RunMarkLoop marks every live session to market each interval until ctx
// is cancelled.
func (s *SessionService) RunMarkLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "session: mark loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "session: mark loop stopped")
			return nil
		case <-ticker.C:
			s.MarkAll(ctx)
		}
	}
}

// MarkAll refreshes the marks of every live session and returns how many
// sessions were marked. A session busy with a fill is skipped this pass.
func (s *SessionService) MarkAll(ctx context.Context) int {
	marked := 0
	for _, rt := range s.live() {
		if s.markSession(ctx, rt) {
			marked++
		}
	}
	return marked
}

func (s *SessionService) markSession(ctx context.Context, rt *sessionRuntime) bool {
	v := rt.view.Load()
	if len(v.symbols) == 0 {
		return false
	}
	prices := s.fetchQuotes(ctx, v.symbols)
	if len(prices) == 0 {
		return false
	}

	if !rt.mu.TryLock() {
		s.logger.DebugContext(ctx, "session: mark skipped, session busy",
			slog.String("session_id", v.session.ID),
		)
		return false
	}
	defer rt.mu.Unlock()
	if !rt.session.Status.Live() {
		return false
	}
	s.applyMarks(ctx, rt, prices)
	return true
}

// fetchQuotes looks up symbols in parallel. Symbols without a usable quote
// are left out.
func (s *SessionService) fetchQuotes(ctx context.Context, symbols []string) map[string]float64 {
	var mu sync.Mutex
	out := make(map[string]float64, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteConcurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			q, err := s.sim.Quote(gctx, sym)
			if err != nil {
				s.logger.DebugContext(ctx, "session: no quote for mark",
					slog.String("symbol", sym),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			out[sym] = q.Price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// RunSnapshotLoop snapshots every live session each interval until ctx is
// cancelled.
func (s *SessionService) RunSnapshotLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "session: snapshot loop started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "session: snapshot loop stopped")
			return nil
		case <-ticker.C:
			for _, rt := range s.live() {
				id := rt.view.Load().session.ID
				if _, err := s.TakeSnapshot(ctx, id); err != nil {
					s.logger.WarnContext(ctx, "session: snapshot failed",
						slog.String("session_id", id),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}
