package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

func TestRecordFillCommitsEverything(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := domain.Session{ID: "s1", OwnerID: "alice", Status: domain.SessionStatusActive, StartedAt: t0, TradeCount: 1}
	trade := domain.Trade{ID: "t1", SessionID: "s1", PositionID: "p1", Fill: domain.Fill{Symbol: "TCS", ExecutedAt: t0}}
	pos := domain.Position{ID: "p1", SessionID: "s1", Symbol: "TCS", Status: domain.PositionStatusOpen, OpenedAt: t0}

	if err := s.RecordFill(ctx, domain.FillRecord{Session: sess, Trade: trade, Positions: []domain.Position{pos}}); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}

	got, err := s.Sessions().GetByID(ctx, "s1")
	if err != nil || got.TradeCount != 1 {
		t.Fatalf("session = %+v, %v", got, err)
	}
	trades, _ := s.Trades().ListBySession(ctx, "s1", domain.ListOpts{})
	if len(trades) != 1 || trades[0].ID != "t1" {
		t.Fatalf("trades = %+v", trades)
	}
	open, _ := s.Positions().ListBySession(ctx, "s1", domain.PositionStatusOpen)
	closed, _ := s.Positions().ListBySession(ctx, "s1", domain.PositionStatusClosed)
	if len(open) != 1 || len(closed) != 0 {
		t.Fatalf("open=%d closed=%d", len(open), len(closed))
	}
}

func TestRecordFillHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()
	err := s.RecordFill(ctx, domain.FillRecord{Session: domain.Session{ID: "s1"}, Trade: domain.Trade{ID: "t1", SessionID: "s1"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, err := s.Sessions().GetByID(context.Background(), "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("session written despite cancelled context: %v", err)
	}
}

func TestSessionQueries(t *testing.T) {
	ctx := context.Background()
	sessions := New().Sessions()
	for i, st := range []domain.SessionStatus{domain.SessionStatusCompleted, domain.SessionStatusActive, domain.SessionStatusPaused} {
		_ = sessions.Upsert(ctx, domain.Session{
			ID:        string(rune('a' + i)),
			OwnerID:   "alice",
			Status:    st,
			StartedAt: t0.Add(time.Duration(i) * time.Hour),
		})
	}
	_ = sessions.Upsert(ctx, domain.Session{ID: "z", OwnerID: "bob", Status: domain.SessionStatusActive, StartedAt: t0})

	mine, _ := sessions.ListByOwner(ctx, "alice", domain.ListOpts{Limit: 2})
	if len(mine) != 2 || mine[0].ID != "c" || mine[1].ID != "b" {
		t.Fatalf("ListByOwner = %+v", mine)
	}
	live, _ := sessions.ListLive(ctx)
	if len(live) != 3 {
		t.Fatalf("live = %d, want 3", len(live))
	}
	if _, err := sessions.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestTradeAppendRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	trades := New().Trades()
	tr := domain.Trade{ID: "t1", SessionID: "s1"}
	if err := trades.Append(ctx, tr); err != nil {
		t.Fatal(err)
	}
	if err := trades.Append(ctx, tr); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestSnapshotsAndAudit(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Snapshots().Latest(ctx, "s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	for i := range 3 {
		_ = s.Snapshots().Append(ctx, domain.PerformanceSnapshot{ID: string(rune('a' + i)), SessionID: "s1", CreatedAt: t0.Add(time.Duration(i) * time.Minute)})
	}
	latest, _ := s.Snapshots().Latest(ctx, "s1")
	if latest.ID != "c" {
		t.Fatalf("latest = %q", latest.ID)
	}
	since := t0.Add(time.Minute)
	window, _ := s.Snapshots().ListBySession(ctx, "s1", domain.ListOpts{Since: &since})
	if len(window) != 2 {
		t.Fatalf("window = %d", len(window))
	}

	_ = s.Audit().Log(ctx, domain.AuditFill, map[string]any{"n": 1})
	_ = s.Audit().Log(ctx, domain.AuditTrigger, nil)
	entries, _ := s.Audit().List(ctx, domain.ListOpts{})
	if len(entries) != 2 || entries[0].Event != domain.AuditTrigger {
		t.Fatalf("entries = %+v", entries)
	}
}
