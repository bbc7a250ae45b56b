package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/config"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/feed"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecutionConfigFromDefaults(t *testing.T) {
	cfg := config.Defaults()
	got := executionConfig(&cfg)

	if got.PriceTimeout != 2*time.Second {
		t.Errorf("PriceTimeout = %v, want 2s", got.PriceTimeout)
	}
	if got.Crypto.LotStep != 0.00001 || got.Equity.LotStep != 1 {
		t.Errorf("lot steps = %v/%v", got.Crypto.LotStep, got.Equity.LotStep)
	}
	if got.Equity.SlippageBps.Large != 10 {
		t.Errorf("equity large slippage = %v, want 10", got.Equity.SlippageBps.Large)
	}
	if m := got.Multipliers[domain.StrategyScalping]; m != 1.2 {
		t.Errorf("scalping multiplier = %v, want 1.2", m)
	}
	if x := got.Exits[domain.StrategySwing]; x.StopLoss != 0.05 || x.TakeProfit != 0.10 {
		t.Errorf("swing exits = %+v", x)
	}
	for _, st := range []domain.Strategy{
		domain.StrategyScalping, domain.StrategyMomentum, domain.StrategySwing,
		domain.StrategyMeanReversion, domain.StrategyBreakout, domain.StrategyArbitrage,
	} {
		if !got.Known(st) {
			t.Errorf("strategy %q unknown", st)
		}
	}
}

func TestSessionDefaults(t *testing.T) {
	cfg := config.Defaults()
	cfg.Paper.Strategies = []string{"momentum", "swing"}

	got := sessionDefaults(&cfg)
	if got.OwnerID != "local" || got.InitialCapital != 100_000 {
		t.Errorf("owner/capital = %q/%v", got.OwnerID, got.InitialCapital)
	}
	if got.Limits.MaxPositionSizeFraction != 0.10 || got.Limits.KillSwitchLossFraction != 0.10 {
		t.Errorf("limits = %+v", got.Limits)
	}
	if len(got.Strategies) != 2 || got.Strategies[1] != domain.StrategySwing {
		t.Errorf("strategies = %v", got.Strategies)
	}
}

func TestPriceCacheTTL(t *testing.T) {
	cfg := config.Defaults()
	if got := priceCacheTTL(&cfg); got != time.Minute {
		t.Errorf("ttl = %v, want 1m", got)
	}
	cfg.Price.MaxAge.Duration = 0
	if got := priceCacheTTL(&cfg); got != 0 {
		t.Errorf("ttl = %v, want 0", got)
	}
}

func memoryConfig() config.Config {
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.Redis.Enabled = false
	cfg.S3.Enabled = false
	cfg.Price.Source = "simulated"
	cfg.Price.FeedUpstream = "simulated"
	cfg.Paper.Timezone = "UTC"
	return cfg
}

func TestWireInProcess(t *testing.T) {
	cfg := memoryConfig()
	ctx := context.Background()

	deps, cleanup, err := Wire(ctx, &cfg, discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.Walk == nil {
		t.Fatal("simulated walk not built")
	}
	if walk, ok := deps.Prices.(*feed.Simulated); !ok || walk != deps.Walk {
		t.Error("price source and feed upstream should share one walk")
	}
	if deps.Upstream != feed.Poller(deps.Walk) {
		t.Error("upstream is not the walk")
	}
	if deps.RateLimiter == nil {
		t.Error("rate limiter missing with a non-zero limit")
	}
	if deps.Archiver != nil {
		t.Error("archiver built with S3 disabled")
	}
	if len(deps.Checkers) != 0 {
		t.Errorf("checkers = %d, want none for in-process backends", len(deps.Checkers))
	}
	if deps.Notifier.Enabled("stop_loss") {
		t.Error("notifier enabled without senders")
	}

	svc, err := NewSessionService(&cfg, deps, discardLogger())
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	sess, err := svc.StartSession(ctx, domain.SessionConfig{})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.OwnerID != "local" || sess.InitialCapital != 100_000 {
		t.Errorf("defaults not applied: owner=%q capital=%v", sess.OwnerID, sess.InitialCapital)
	}
	if n := svc.LiveCount(); n != 1 {
		t.Errorf("LiveCount = %d, want 1", n)
	}
}

func TestWireRateLimiterOff(t *testing.T) {
	cfg := memoryConfig()
	cfg.Server.RateLimit = 0

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()
	if deps.RateLimiter != nil {
		t.Error("rate limiter built with limit 0")
	}
}

func TestNewSessionServiceBadTimezone(t *testing.T) {
	cfg := memoryConfig()
	cfg.Paper.Timezone = "Mars/Olympus_Mons"

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()
	if _, err := NewSessionService(&cfg, deps, discardLogger()); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "backtest"

	a := New(&cfg, discardLogger(), "test")
	defer a.Close()
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected unsupported mode error")
	}
}
