package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/feed"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/server"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/server/handler"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/server/ws"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/service"
)

const shutdownTimeout = 5 * time.Second

// TradeMode runs the session orchestrator: the HTTP API, the mark and
// snapshot loops and the trigger notifier.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startTrading(ctx, g, deps); err != nil {
		return err
	}
	a.startWalk(ctx, g, deps)
	return g.Wait()
}

// FeedMode copies upstream quotes into the shared price cache so trade-mode
// processes configured with the redis price source can read them.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feed mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startFeed(ctx, g, deps); err != nil {
		return err
	}
	a.startWalk(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the feed and the orchestrator in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startFeed(ctx, g, deps); err != nil {
		return err
	}
	if err := a.startTrading(ctx, g, deps); err != nil {
		return err
	}
	a.startWalk(ctx, g, deps)
	return g.Wait()
}

func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Upstream == nil {
		return fmt.Errorf("app: feed upstream %q cannot be polled", a.cfg.Price.FeedUpstream)
	}
	interval := a.cfg.Price.Binance.PollInterval.Duration
	if deps.Walk != nil && deps.Upstream == feed.Poller(deps.Walk) {
		interval = a.cfg.Price.Simulated.Tick.Duration
	}
	pub := feed.NewPublisher(deps.Upstream, deps.PriceCache, deps.Bus, interval, a.logger)
	g.Go(func() error { return pub.Run(ctx) })
	return nil
}

// startWalk steps the simulated prices when either side uses them.
func (a *App) startWalk(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Walk != nil {
		g.Go(func() error { return deps.Walk.Run(ctx) })
	}
}

func (a *App) startTrading(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	svc, err := NewSessionService(a.cfg, deps, a.logger)
	if err != nil {
		return err
	}

	if a.cfg.Engine.RecoverOnStart {
		n, err := svc.Recover(ctx)
		if err != nil {
			return fmt.Errorf("app: recover sessions: %w", err)
		}
		a.logger.InfoContext(ctx, "recovered live sessions", slog.Int("count", n))
	}

	g.Go(func() error { return svc.RunMarkLoop(ctx, a.cfg.Engine.MarkInterval.Duration) })
	g.Go(func() error { return svc.RunSnapshotLoop(ctx, a.cfg.Engine.SnapshotInterval.Duration) })

	if deps.Notifier.Enabled("stop_loss") || deps.Notifier.Enabled("take_profit") {
		consumer := service.NewTriggerConsumer(deps.Bus, deps.Notifier,
			a.cfg.Redis.TriggerStream, a.cfg.Redis.ConsumerGroup, consumerName(), a.logger)
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	return nil
}

// startHTTPServer serves the API and the event WebSocket until ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.SessionService) {
	hub := ws.NewHub(deps.Bus, svc, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(svc, a.cfg.Mode, a.logger, deps.Checkers...),
		Sessions:  handler.NewSessionHandler(svc, a.logger),
		Signals:   handler.NewSignalHandler(svc, a.logger),
		Portfolio: handler.NewPortfolioHandler(svc, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// consumerName identifies this process within the trigger consumer group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "papertrade"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
