package sqlite

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "paper.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordFillRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	sess := domain.Session{
		ID: "s1", OwnerID: "alice", Status: domain.SessionStatusActive,
		InitialCapital: 100_000, Strategies: []domain.Strategy{domain.StrategyMomentum},
		StartedAt: t0, TradeCount: 1,
	}
	trade := domain.Trade{ID: "t1", SessionID: "s1", PositionID: "p1", Fill: domain.Fill{
		Symbol: "TCS", Strategy: domain.StrategyMomentum, Direction: domain.DirectionBuy,
		Quantity: 5, FillPrice: 3800, Latency: 12 * time.Millisecond, ExecutedAt: t0,
	}}
	pos := domain.Position{ID: "p1", SessionID: "s1", Symbol: "TCS", Strategy: domain.StrategyMomentum,
		Quantity: 5, AveragePrice: 3800, Status: domain.PositionStatusOpen, OpenedAt: t0}

	if err := s.RecordFill(ctx, domain.FillRecord{Session: sess, Trade: trade, Positions: []domain.Position{pos}}); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}

	got, err := s.Sessions().GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.TradeCount != 1 || !got.StartedAt.Equal(t0) || len(got.Strategies) != 1 {
		t.Fatalf("session = %+v", got)
	}
	trades, err := s.Trades().ListBySession(ctx, "s1", domain.ListOpts{})
	if err != nil || len(trades) != 1 || trades[0].Latency != 12*time.Millisecond {
		t.Fatalf("trades = %+v, %v", trades, err)
	}
	open, _ := s.Positions().ListBySession(ctx, "s1", domain.PositionStatusOpen)
	if len(open) != 1 || open[0].AveragePrice != 3800 {
		t.Fatalf("open positions = %+v", open)
	}

	// A duplicate trade id aborts the whole record.
	sess.TradeCount = 2
	err = s.RecordFill(ctx, domain.FillRecord{Session: sess, Trade: trade})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate err = %v", err)
	}
	got, _ = s.Sessions().GetByID(ctx, "s1")
	if got.TradeCount != 1 {
		t.Fatalf("session updated by a failed record: %d", got.TradeCount)
	}
}

func TestSessionsListing(t *testing.T) {
	ctx := context.Background()
	sessions := openStore(t).Sessions()
	for i, st := range []domain.SessionStatus{domain.SessionStatusCompleted, domain.SessionStatusPaused, domain.SessionStatusActive} {
		if err := sessions.Upsert(ctx, domain.Session{
			ID: string(rune('a' + i)), OwnerID: "alice", Status: st, StartedAt: t0.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := sessions.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	mine, err := sessions.ListByOwner(ctx, "alice", domain.ListOpts{Limit: 2, Offset: 1})
	if err != nil || len(mine) != 2 || mine[0].ID != "b" || mine[1].ID != "a" {
		t.Fatalf("ListByOwner = %+v, %v", mine, err)
	}
	live, _ := sessions.ListLive(ctx)
	if len(live) != 2 {
		t.Fatalf("live = %d", len(live))
	}
}

func TestSnapshotsKeepInfiniteRatios(t *testing.T) {
	ctx := context.Background()
	snaps := openStore(t).Snapshots()
	if _, err := snaps.Latest(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	for i := range 2 {
		snap := domain.PerformanceSnapshot{
			ID: string(rune('a' + i)), SessionID: "s1", CreatedAt: t0.Add(time.Duration(i) * time.Minute),
			Stats: domain.PerformanceStats{ProfitFactor: domain.Ratio(math.Inf(1))},
		}
		if err := snaps.Append(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}
	latest, err := snaps.Latest(ctx, "s1")
	if err != nil || latest.ID != "b" || !latest.Stats.ProfitFactor.IsInf() {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
	all, _ := snaps.ListBySession(ctx, "s1", domain.ListOpts{})
	if len(all) != 2 || all[0].ID != "a" {
		t.Fatalf("list = %+v", all)
	}
}

func TestAuditLog(t *testing.T) {
	ctx := context.Background()
	audit := openStore(t).Audit()
	_ = audit.Log(ctx, domain.AuditSessionStarted, map[string]any{"session_id": "s1"})
	_ = audit.Log(ctx, domain.AuditFill, nil)
	entries, err := audit.List(ctx, domain.ListOpts{})
	if err != nil || len(entries) != 2 {
		t.Fatalf("entries = %+v, %v", entries, err)
	}
	if entries[1].Detail["session_id"] != "s1" {
		t.Fatalf("detail = %+v", entries[1].Detail)
	}
}
