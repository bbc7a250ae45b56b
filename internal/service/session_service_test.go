package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	memcache "github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/cache/memory"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/execution"
	memstore "github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/store/memory"
)

// priceBoard is a settable domain.PriceSource.
type priceBoard struct {
	mu sync.Mutex
	m  map[string]float64
}

func (p *priceBoard) set(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[symbol] = price
}

func (p *priceBoard) GetPrice(_ context.Context, symbol string) (domain.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return domain.Quote{Symbol: symbol, Price: v, Timestamp: time.Now(), Source: "test"}, nil
}

type recordingArchiver struct {
	mu       sync.Mutex
	archives []domain.SessionArchive
}

func (a *recordingArchiver) ArchiveSession(_ context.Context, arc domain.SessionArchive) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archives = append(a.archives, arc)
	return "archive/sessions/" + arc.Session.ID, nil
}

type testEnv struct {
	svc    *SessionService
	store  *memstore.Store
	bus    *memcache.Bus
	prices *priceBoard
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSizeFraction: 0.10,
		MaxDailyLossFraction:    0.05,
		MinConfidence:           0.60,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memstore.New()
	bus := memcache.NewBus()
	prices := &priceBoard{m: map[string]float64{"TCS": 1000, "INFY": 1500}}
	return &testEnv{
		svc:    newService(store, bus, prices),
		store:  store,
		bus:    bus,
		prices: prices,
	}
}

func newService(store *memstore.Store, bus *memcache.Bus, prices domain.PriceSource) *SessionService {
	simCfg := execution.DefaultConfig()
	simCfg.NoiseFraction = 0
	sim := execution.NewSimulator(simCfg, prices, nil, discardLogger())

	stores := Stores{
		Sessions:  store.Sessions(),
		Trades:    store.Trades(),
		Positions: store.Positions(),
		Snapshots: store.Snapshots(),
		Fills:     store,
		Audit:     store.Audit(),
	}
	cfg := SessionConfig{
		Defaults: domain.SessionConfig{
			OwnerID:        "local",
			InitialCapital: 100_000,
			Limits:         defaultLimits(),
			RiskFreeRate:   0.05,
		},
		Location:          time.UTC,
		AnnualizationDays: 252,
		SnapshotWindow:    10,
		ArchiveOnStop:     true,
		TriggerStream:     "triggers",
	}
	return NewSessionService(stores, sim, bus, memcache.NewLockManager(), cfg, discardLogger())
}

func (e *testEnv) start(t *testing.T, cfg domain.SessionConfig) domain.Session {
	t.Helper()
	sess, err := e.svc.StartSession(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return sess
}

func buy(symbol string, strategy domain.Strategy, amount float64) domain.Signal {
	return domain.Signal{
		Strategy:              strategy,
		Symbol:                symbol,
		Direction:             domain.DirectionBuy,
		Confidence:            0.8,
		RequestedDollarAmount: amount,
	}
}

func sell(symbol string, strategy domain.Strategy, amount float64) domain.Signal {
	sig := buy(symbol, strategy, amount)
	sig.Direction = domain.DirectionSell
	return sig
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestStartSessionOnePerOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sess := env.start(t, domain.SessionConfig{OwnerID: "alice"})
	if sess.Status != domain.SessionStatusActive {
		t.Errorf("status = %s", sess.Status)
	}
	if sess.InitialCapital != 100_000 || sess.AvailableCapital != 100_000 || sess.CurrentCapital != 100_000 {
		t.Errorf("capital = %+v", sess)
	}

	_, err := env.svc.StartSession(ctx, domain.SessionConfig{OwnerID: "alice"})
	if !errors.Is(err, domain.ErrSessionAlreadyActive) {
		t.Fatalf("second start err = %v, want ErrSessionAlreadyActive", err)
	}

	env.start(t, domain.SessionConfig{OwnerID: "bob"})

	if _, err := env.svc.StopSession(ctx, sess.ID); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	env.start(t, domain.SessionConfig{OwnerID: "alice"})
}

func TestStartSessionRejectsBadConfig(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		cfg  domain.SessionConfig
	}{
		{"negative capital", domain.SessionConfig{InitialCapital: -1}},
		{"position fraction above one", domain.SessionConfig{Limits: domain.RiskLimits{MaxPositionSizeFraction: 1.5}}},
		{"unknown strategy", domain.SessionConfig{Strategies: []domain.Strategy{"martingale"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.StartSession(context.Background(), tt.cfg)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestSubmitSignalOpensPosition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{})

	// $4000 is a small equity order: 2 bps, fill 1000.2, 3 shares.
	upd, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 4000))
	if err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}
	if upd.Action != domain.PositionOpened {
		t.Errorf("action = %s", upd.Action)
	}
	if upd.Trade.Quantity != 3 || !approx(upd.Trade.FillPrice, 1000.2) {
		t.Errorf("fill = %v @ %v", upd.Trade.Quantity, upd.Trade.FillPrice)
	}
	if upd.Trade.SignalID == "" {
		t.Error("trade has no signal id")
	}

	status, err := env.svc.GetPortfolioStatus(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetPortfolioStatus: %v", err)
	}
	if want := 100_000 - 3*1000.2 - 1; !approx(status.Totals.AvailableCapital, want) {
		t.Errorf("available = %v, want %v", status.Totals.AvailableCapital, want)
	}
	if len(status.Positions) != 1 || status.Positions[0].Symbol != "TCS" || status.Positions[0].Quantity != 3 {
		t.Errorf("positions = %+v", status.Positions)
	}
	if status.Session.TradeCount != 1 {
		t.Errorf("trade count = %d", status.Session.TradeCount)
	}

	stored, _ := env.store.Sessions().GetByID(ctx, sess.ID)
	if !approx(stored.AvailableCapital, status.Totals.AvailableCapital) {
		t.Errorf("stored available = %v", stored.AvailableCapital)
	}
	trades, _ := env.store.Trades().ListBySession(ctx, sess.ID, domain.ListOpts{})
	if len(trades) != 1 {
		t.Errorf("stored trades = %d", len(trades))
	}
	if hist, _ := env.svc.SnapshotHistory(sess.ID); len(hist) != 1 {
		t.Errorf("rolling buffer holds %d snapshots, want 1", len(hist))
	}
}

func TestSubmitSignalRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{Strategies: []domain.Strategy{domain.StrategyMomentum, domain.StrategySwing}})

	lowConfidence := buy("TCS", domain.StrategyMomentum, 1000)
	lowConfidence.Confidence = 0.3
	badDirection := buy("TCS", domain.StrategyMomentum, 1000)
	badDirection.Direction = "hold"
	// $100 requested, but 80 shares at $1000 is $80k of exposure.
	bigQuantity := buy("TCS", domain.StrategySwing, 100)
	bigQuantity.RequestedQuantity = 80

	tests := []struct {
		name      string
		sessionID string
		sig       domain.Signal
		want      domain.RejectionCode
	}{
		{"no session", "missing", buy("TCS", domain.StrategyMomentum, 1000), domain.RejectNoActiveSession},
		{"invalid signal", sess.ID, badDirection, domain.RejectInvalidSignal},
		{"strategy not enabled", sess.ID, buy("TCS", domain.StrategyScalping, 1000), domain.RejectStrategyNotEnabled},
		{"low confidence", sess.ID, lowConfidence, domain.RejectConfidenceBelowThreshold},
		{"too large", sess.ID, buy("TCS", domain.StrategyMomentum, 10_000.01), domain.RejectPositionTooLarge},
		{"quantity order too large", sess.ID, bigQuantity, domain.RejectPositionTooLarge},
		{"no price", sess.ID, buy("WIPRO", domain.StrategyMomentum, 1000), domain.RejectPriceUnavailable},
		{"zero quantity", sess.ID, buy("TCS", domain.StrategyMomentum, 900), domain.RejectZeroQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.SubmitSignal(ctx, tt.sessionID, tt.sig)
			code, ok := domain.RejectionCodeOf(err)
			if !ok || code != tt.want {
				t.Fatalf("err = %v, want rejection %s", err, tt.want)
			}
		})
	}

	status, _ := env.svc.GetPortfolioStatus(ctx, sess.ID)
	if status.Totals.AvailableCapital != 100_000 || status.Totals.Trades != 0 || len(status.Positions) != 0 {
		t.Errorf("rejections changed state: %+v", status.Totals)
	}
	trades, _ := env.store.Trades().ListBySession(ctx, sess.ID, domain.ListOpts{})
	if len(trades) != 0 {
		t.Errorf("stored %d trades", len(trades))
	}
	audit, _ := env.store.Audit().List(ctx, domain.ListOpts{})
	rejections := 0
	for _, e := range audit {
		if e.Event == domain.AuditRejection {
			rejections++
		}
	}
	// The missing-session rejection never reaches a session.
	if rejections != len(tests)-1 {
		t.Errorf("audited %d rejections, want %d", rejections, len(tests)-1)
	}
}

func TestClosingIsNotCappedBySizeLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{})

	// Medium tier: 5 bps, fill 1000.5, 9 shares.
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 10_000)); err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}
	env.prices.set("TCS", 2000)

	// $18k is above 10% of available, but all of it offsets the long.
	upd, err := env.svc.SubmitSignal(ctx, sess.ID, sell("TCS", domain.StrategyMomentum, 18_000))
	if err != nil {
		t.Fatalf("closing SubmitSignal: %v", err)
	}
	if upd.Action != domain.PositionClosed {
		t.Errorf("action = %s, want close", upd.Action)
	}

	// Flipping past the long is new exposure and is still limited.
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 10_000)); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	flip := sell("TCS", domain.StrategyMomentum, 100)
	flip.RequestedQuantity = 20
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, flip); !errors.Is(err, domain.ErrPositionTooLarge) {
		t.Errorf("flip err = %v, want ErrPositionTooLarge", err)
	}
}

// failingRecorder rejects every write.
type failingRecorder struct{ err error }

func (f failingRecorder) RecordFill(context.Context, domain.FillRecord) error { return f.err }

func TestFailedWriteCommitsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{})

	writeErr := errors.New("disk full")
	env.svc.stores.Fills = failingRecorder{err: writeErr}

	_, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 4000))
	if !errors.Is(err, writeErr) {
		t.Fatalf("err = %v, want the write error", err)
	}
	if domain.IsRejection(err) {
		t.Errorf("write failure reported as a rejection: %v", err)
	}

	status, err := env.svc.GetPortfolioStatus(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetPortfolioStatus: %v", err)
	}
	if status.Totals.AvailableCapital != 100_000 || status.Totals.Trades != 0 || len(status.Positions) != 0 {
		t.Errorf("failed write changed state: %+v, %d positions", status.Totals, len(status.Positions))
	}
	trades, _ := env.store.Trades().ListBySession(ctx, sess.ID, domain.ListOpts{})
	if len(trades) != 0 {
		t.Errorf("stored %d trades", len(trades))
	}

	// The same signal succeeds once the store recovers.
	env.svc.stores.Fills = env.store
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 4000)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	status, _ = env.svc.GetPortfolioStatus(ctx, sess.ID)
	if status.Totals.Trades != 1 || len(status.Positions) != 1 {
		t.Errorf("after retry: %+v, %d positions", status.Totals, len(status.Positions))
	}
}

func TestStopWaitsForInFlightSignals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{})

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 2000))
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrNoActiveSession) {
				t.Errorf("SubmitSignal: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		if _, err := env.svc.StopSession(ctx, sess.ID); err != nil {
			t.Errorf("StopSession: %v", err)
		}
	}()
	close(start)
	wg.Wait()

	stored, err := env.store.Sessions().GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.SessionStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	open, _ := env.store.Positions().ListBySession(ctx, sess.ID, domain.PositionStatusOpen)
	if len(open) != 0 {
		t.Errorf("%d positions left open after stop", len(open))
	}

	want := accepted
	if accepted > 0 {
		want++ // the forced close
	}
	trades, _ := env.store.Trades().ListBySession(ctx, sess.ID, domain.ListOpts{})
	if len(trades) != want {
		t.Errorf("stored %d trades, want %d for %d accepted signals", len(trades), want, accepted)
	}
	if !approx(stored.AvailableCapital, stored.CurrentCapital) {
		t.Errorf("available %v != current %v with nothing open", stored.AvailableCapital, stored.CurrentCapital)
	}
	if !approx(stored.CurrentCapital, 100_000+stored.RealizedPnL-stored.Commissions) {
		t.Errorf("capital %v, realized %v, commissions %v", stored.CurrentCapital, stored.RealizedPnL, stored.Commissions)
	}
}

func TestDailyLossLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{Limits: domain.RiskLimits{
		MaxPositionSizeFraction: 1,
		MaxDailyLossFraction:    0.01,
	}})

	// Large order: 10 bps, fill 1001, 49 shares.
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 50_000)); err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}
	if _, err := env.svc.MarkToMarket(ctx, sess.ID, "TCS", 970); err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}

	_, err := env.svc.SubmitSignal(ctx, sess.ID, buy("INFY", domain.StrategyMomentum, 3000))
	if !errors.Is(err, domain.ErrDailyLossLimitExceeded) {
		t.Fatalf("err = %v, want ErrDailyLossLimitExceeded", err)
	}

	status, _ := env.svc.GetPortfolioStatus(ctx, sess.ID)
	if want := (970 - 1001.0) * 49; !approx(status.Totals.UnrealizedPnL, want) {
		t.Errorf("unrealized = %v, want %v", status.Totals.UnrealizedPnL, want)
	}
	if status.DailyPnL >= -1000 {
		t.Errorf("daily pnl = %v", status.DailyPnL)
	}
}

func TestKillSwitchTerminatesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{Limits: domain.RiskLimits{
		MaxPositionSizeFraction: 1,
		MaxDailyLossFraction:    0.5,
		KillSwitchLossFraction:  0.01,
	}})

	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 50_000)); err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}
	env.prices.set("TCS", 970)
	if _, err := env.svc.MarkToMarket(ctx, sess.ID, "TCS", 970); err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}

	got, err := env.svc.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != domain.SessionStatusTerminated || !strings.HasPrefix(got.EndReason, "kill switch") {
		t.Fatalf("session = %s %q", got.Status, got.EndReason)
	}
	if want := (970 - 1001.0) * 49; !approx(got.RealizedPnL, want) {
		t.Errorf("realized = %v, want %v", got.RealizedPnL, want)
	}
	open, _ := env.store.Positions().ListBySession(ctx, sess.ID, domain.PositionStatusOpen)
	if len(open) != 0 {
		t.Errorf("%d positions still open", len(open))
	}
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 2000)); !errors.Is(err, domain.ErrNoActiveSession) {
		t.Errorf("submit after termination err = %v", err)
	}
}

func TestStopSessionClosesPositions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	arc := &recordingArchiver{}
	env.svc.SetArchiver(arc)
	sess := env.start(t, domain.SessionConfig{})

	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 4000)); err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}
	env.prices.set("TCS", 1010)

	snap, err := env.svc.StopSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if !snap.Final {
		t.Error("final snapshot not marked final")
	}
	if snap.Stats.ClosedPositions != 1 || snap.Stats.WinningTrades != 1 || snap.Stats.WinRate != 100 {
		t.Errorf("stats = %+v", snap.Stats)
	}

	realized := (1010 - 1000.2) * 3
	wantCapital := 100_000 + realized - 2 // two $1 minimum commissions
	if !approx(snap.EndingCapital, wantCapital) {
		t.Errorf("ending capital = %v, want %v", snap.EndingCapital, wantCapital)
	}

	stored, _ := env.store.Sessions().GetByID(ctx, sess.ID)
	if stored.Status != domain.SessionStatusCompleted || stored.EndedAt == nil {
		t.Errorf("stored session = %s ended %v", stored.Status, stored.EndedAt)
	}
	if !approx(stored.AvailableCapital, wantCapital) || !approx(stored.CurrentCapital, wantCapital) {
		t.Errorf("stored capital = %v / %v", stored.AvailableCapital, stored.CurrentCapital)
	}

	trades, _ := env.store.Trades().ListBySession(ctx, sess.ID, domain.ListOpts{})
	if len(trades) != 2 || !trades[1].Forced || trades[1].FillPrice != 1010 {
		t.Fatalf("trades = %+v", trades)
	}
	latest, err := env.store.Snapshots().Latest(ctx, sess.ID)
	if err != nil || latest.ID != snap.ID {
		t.Errorf("latest snapshot = %v, %v", latest.ID, err)
	}
	if len(arc.archives) != 1 || len(arc.archives[0].Trades) != 2 {
		t.Errorf("archives = %d", len(arc.archives))
	}

	if _, err := env.svc.StopSession(ctx, sess.ID); !errors.Is(err, domain.ErrNoActiveSession) {
		t.Errorf("second stop err = %v", err)
	}
	summary, err := env.svc.GetPerformanceSummary(ctx, sess.ID)
	if err != nil || summary.ID != snap.ID {
		t.Errorf("summary after stop = %v, %v", summary.ID, err)
	}
}

func TestGetPerformanceSince(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{})

	roundTrip := func(exit float64) {
		t.Helper()
		env.prices.set("TCS", 1000)
		if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 4000)); err != nil {
			t.Fatalf("open: %v", err)
		}
		env.prices.set("TCS", exit)
		closing := sell("TCS", domain.StrategyMomentum, 4000)
		closing.RequestedQuantity = 3
		if _, err := env.svc.SubmitSignal(ctx, sess.ID, closing); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	roundTrip(1010)
	cut := time.Now()
	roundTrip(990)

	check := func(label string) {
		t.Helper()
		snap, err := env.svc.GetPerformanceSince(ctx, sess.ID, cut)
		if err != nil {
			t.Fatalf("%s: GetPerformanceSince: %v", label, err)
		}
		if snap.Stats.ClosedPositions != 1 || snap.Stats.LosingTrades != 1 || snap.Stats.TotalTrades != 2 {
			t.Errorf("%s: window stats = %+v", label, snap.Stats)
		}
		if snap.StartingCapital <= 100_000 {
			t.Errorf("%s: starting capital %v should include the earlier win", label, snap.StartingCapital)
		}
	}
	check("live")

	whole, err := env.svc.GetPerformanceSummary(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetPerformanceSummary: %v", err)
	}
	if whole.Stats.ClosedPositions != 2 || whole.Stats.WinRate != 50 {
		t.Errorf("session-to-date stats = %+v", whole.Stats)
	}

	if _, err := env.svc.StopSession(ctx, sess.ID); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	check("finished")
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{})

	if _, err := env.svc.PauseSession(ctx, sess.ID); err != nil {
		t.Fatalf("PauseSession: %v", err)
	}
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 2000)); !errors.Is(err, domain.ErrSessionPaused) {
		t.Fatalf("submit while paused err = %v", err)
	}
	if _, err := env.svc.PauseSession(ctx, sess.ID); !errors.Is(err, domain.ErrSessionPaused) {
		t.Errorf("second pause err = %v", err)
	}

	resumed, err := env.svc.ResumeSession(ctx, sess.ID)
	if err != nil || resumed.Status != domain.SessionStatusActive {
		t.Fatalf("ResumeSession = %s, %v", resumed.Status, err)
	}
	if _, err := env.svc.ResumeSession(ctx, sess.ID); !errors.Is(err, domain.ErrSessionAlreadyActive) {
		t.Errorf("second resume err = %v", err)
	}
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 2000)); err != nil {
		t.Errorf("submit after resume: %v", err)
	}
}

func TestMarkToMarketTriggersOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{})
	if err := env.bus.EnsureGroup(ctx, "triggers", "test"); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}

	// Momentum stop loss sits 2% under the 1000.2 fill.
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 4000)); err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}

	triggers, err := env.svc.MarkToMarket(ctx, sess.ID, "TCS", 975)
	if err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}
	if len(triggers) != 1 || triggers[0].Kind != domain.TriggerStopLoss {
		t.Fatalf("triggers = %+v", triggers)
	}
	before, _ := env.svc.GetPortfolioStatus(ctx, sess.ID)

	again, _ := env.svc.MarkToMarket(ctx, sess.ID, "TCS", 975)
	if len(again) != 0 {
		t.Errorf("repeat mark emitted %d triggers", len(again))
	}
	after, _ := env.svc.GetPortfolioStatus(ctx, sess.ID)
	if before.Totals.UnrealizedPnL != after.Totals.UnrealizedPnL || before.Totals.RealizedPnL != after.Totals.RealizedPnL {
		t.Errorf("repeat mark changed totals: %+v -> %+v", before.Totals, after.Totals)
	}
	if len(after.Positions) != 1 {
		t.Errorf("trigger closed the position")
	}

	if none, err := env.svc.MarkToMarket(ctx, sess.ID, "INFY", 1400); err != nil || len(none) != 0 {
		t.Errorf("mark of unheld symbol = %v, %v", none, err)
	}

	msgs, err := env.bus.StreamReadGroup(ctx, "triggers", "test", "c1", 10, 0)
	if err != nil {
		t.Fatalf("StreamReadGroup: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("stream holds %d triggers, want 1", len(msgs))
	}
}

func TestCapitalConservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{Limits: domain.RiskLimits{
		MaxPositionSizeFraction: 0.5,
		MaxDailyLossFraction:    1,
	}})

	steps := []struct {
		price float64
		sig   domain.Signal
	}{
		{1000, buy("TCS", domain.StrategyMomentum, 10_000)},
		{1020, buy("TCS", domain.StrategyMomentum, 6_000)},
		{1040, sell("TCS", domain.StrategyMomentum, 5_000)},
		{990, sell("TCS", domain.StrategyMomentum, 20_000)}, // flips short
		{1500, buy("INFY", domain.StrategySwing, 9_000)},
		{960, buy("TCS", domain.StrategyMomentum, 4_000)},
		{1450, sell("INFY", domain.StrategySwing, 9_000)},
	}
	for i, st := range steps {
		sym := st.sig.Symbol
		env.prices.set(sym, st.price)
		if _, err := env.svc.SubmitSignal(ctx, sess.ID, st.sig); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if _, err := env.svc.MarkToMarket(ctx, sess.ID, sym, st.price*1.01); err != nil {
			t.Fatalf("step %d mark: %v", i, err)
		}

		status, _ := env.svc.GetPortfolioStatus(ctx, sess.ID)
		tot := status.Totals
		lhs := tot.AvailableCapital + tot.InvestedAmount
		rhs := tot.InitialCapital + tot.RealizedPnL - tot.Commissions
		if !approx(lhs, rhs) {
			t.Fatalf("step %d: available %.6f + invested %.6f != %.6f", i, tot.AvailableCapital, tot.InvestedAmount, rhs)
		}
		for _, p := range status.Positions {
			if !approx(p.InvestedAmount, math.Abs(p.Quantity)*p.AveragePrice) {
				t.Fatalf("step %d: position %s invested %v", i, p.Symbol, p.InvestedAmount)
			}
		}
	}
}

func TestRecoverRebuildsLiveSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{})
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 4000)); err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}
	want, _ := env.svc.GetPortfolioStatus(ctx, sess.ID)

	restarted := newService(env.store, env.bus, env.prices)
	n, err := restarted.Recover(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v", n, err)
	}
	got, err := restarted.GetPortfolioStatus(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetPortfolioStatus: %v", err)
	}
	if !approx(got.Totals.AvailableCapital, want.Totals.AvailableCapital) || len(got.Positions) != 1 {
		t.Errorf("recovered %+v, want %+v", got.Totals, want.Totals)
	}
	if _, err := restarted.StartSession(ctx, domain.SessionConfig{}); !errors.Is(err, domain.ErrSessionAlreadyActive) {
		t.Errorf("start after recover err = %v", err)
	}
	if _, err := restarted.SubmitSignal(ctx, sess.ID, sell("TCS", domain.StrategyMomentum, 4000)); err != nil {
		t.Errorf("submit after recover: %v", err)
	}
}

func TestMarkAllSkipsBusySession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{})
	if _, err := env.svc.SubmitSignal(ctx, sess.ID, buy("TCS", domain.StrategyMomentum, 4000)); err != nil {
		t.Fatalf("SubmitSignal: %v", err)
	}
	env.prices.set("TCS", 1005)

	rt, _ := env.svc.lookup(sess.ID)
	rt.mu.Lock()
	if n := env.svc.MarkAll(ctx); n != 0 {
		t.Errorf("marked %d sessions while busy", n)
	}
	rt.mu.Unlock()

	if n := env.svc.MarkAll(ctx); n != 1 {
		t.Fatalf("marked %d sessions, want 1", n)
	}
	status, _ := env.svc.GetPortfolioStatus(ctx, sess.ID)
	if status.Positions[0].CurrentPrice != 1005 {
		t.Errorf("mark = %v", status.Positions[0].CurrentPrice)
	}
}

func TestTakeSnapshotPersists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.start(t, domain.SessionConfig{})

	snap, err := env.svc.TakeSnapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	if snap.Stats.TotalTrades != 0 || snap.EndingCapital != 100_000 {
		t.Errorf("snapshot = %+v", snap)
	}
	list, _ := env.svc.ListSnapshots(ctx, sess.ID, domain.ListOpts{})
	if len(list) != 1 || list[0].ID != snap.ID {
		t.Errorf("persisted = %d", len(list))
	}
}
