package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	s3blob "github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/blob/s3"
	memcache "github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/cache/memory"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/cache/redis"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/config"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/execution"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/feed"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/notify"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/service"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/store/postgres"
	memstore "github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/store/memory"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Stores service.Stores

	// Caches and messaging
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter // nil when rate limiting is off
	LockManager domain.LockManager
	Bus         domain.EventBus

	// Prices the orchestrator marks and fills against.
	Prices domain.PriceSource
	// Upstream is what the feed mode copies into the price cache.
	Upstream feed.Poller
	// Walk is the simulated random walk, when one is in use.
	Walk *feed.Simulated

	// Blob storage
	Archiver domain.Archiver // nil when S3 is disabled

	// Notifications
	Notifier *notify.Notifier

	// Checkers report on every external dependency.
	Checkers []domain.HealthChecker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Persistence ---
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Stores = service.Stores{
			Sessions:  postgres.NewSessionStore(pool),
			Trades:    postgres.NewTradeStore(pool),
			Positions: postgres.NewPositionStore(pool),
			Snapshots: postgres.NewSnapshotStore(pool),
			Fills:     postgres.NewFillRecorder(pool),
			Audit:     postgres.NewAuditStore(pool),
		}
		deps.Checkers = append(deps.Checkers, pgClient)

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Stores = service.Stores{
			Sessions:  db.Sessions(),
			Trades:    db.Trades(),
			Positions: db.Positions(),
			Snapshots: db.Snapshots(),
			Fills:     db,
			Audit:     db.Audit(),
		}
		deps.Checkers = append(deps.Checkers, db)

	default:
		mem := memstore.New()
		deps.Stores = service.Stores{
			Sessions:  mem.Sessions(),
			Trades:    mem.Trades(),
			Positions: mem.Positions(),
			Snapshots: mem.Snapshots(),
			Fills:     mem,
			Audit:     mem.Audit(),
		}
		logger.WarnContext(ctx, "wire: using in-memory store, nothing survives a restart")
	}

	// --- Redis, or in-process stand-ins ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, priceCacheTTL(cfg))
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewEventBus(redisClient)
		if cfg.Server.RateLimit > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
		}
		deps.Checkers = append(deps.Checkers, redisClient)
	} else {
		deps.PriceCache = memcache.NewPriceCache()
		deps.LockManager = memcache.NewLockManager()
		deps.Bus = memcache.NewBus()
		if cfg.Server.RateLimit > 0 {
			deps.RateLimiter = memcache.NewRateLimiter()
		}
	}

	// --- Prices ---
	var binance *feed.Binance
	sourceOf := func(name string) domain.PriceSource {
		switch strings.ToLower(name) {
		case "binance":
			if binance == nil {
				binance = feed.NewBinance(binanceConfig(cfg), logger)
				deps.Checkers = append(deps.Checkers, binance)
			}
			return binance
		case "redis":
			return feed.NewCachedSource(deps.PriceCache, cfg.Price.MaxAge.Duration)
		default:
			if deps.Walk == nil {
				deps.Walk = feed.NewSimulated(simulatedConfig(cfg), logger)
			}
			return deps.Walk
		}
	}
	deps.Prices = sourceOf(cfg.Price.Source)
	if up, ok := sourceOf(cfg.Price.FeedUpstream).(feed.Poller); ok {
		deps.Upstream = up
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
		deps.Checkers = append(deps.Checkers, s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// NewSessionService builds the orchestrator over deps.
func NewSessionService(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*service.SessionService, error) {
	loc, err := time.LoadLocation(cfg.Paper.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: timezone %q: %w", cfg.Paper.Timezone, err)
	}

	seed := cfg.Execution.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sim := execution.NewSimulator(executionConfig(cfg), deps.Prices, rand.New(rand.NewSource(seed)), logger)

	svc := service.NewSessionService(deps.Stores, sim, deps.Bus, deps.LockManager, service.SessionConfig{
		Defaults:          sessionDefaults(cfg),
		Location:          loc,
		AnnualizationDays: cfg.Paper.AnnualizationDays,
		SnapshotWindow:    cfg.Engine.SnapshotWindow,
		LockTTL:           cfg.Engine.LockTTL.Duration,
		ArchiveOnStop:     cfg.Engine.ArchiveOnStop,
		TriggerStream:     cfg.Redis.TriggerStream,
	}, logger)
	if deps.Archiver != nil {
		svc.SetArchiver(deps.Archiver)
	}
	svc.SetNotifier(deps.Notifier)
	return svc, nil
}

// sessionDefaults maps the paper section onto the start-request defaults.
func sessionDefaults(cfg *config.Config) domain.SessionConfig {
	p := cfg.Paper
	strategies := make([]domain.Strategy, 0, len(p.Strategies))
	for _, s := range p.Strategies {
		strategies = append(strategies, domain.Strategy(s))
	}
	return domain.SessionConfig{
		OwnerID:        p.DefaultOwner,
		InitialCapital: p.InitialCapital,
		Limits: domain.RiskLimits{
			MaxPositionSizeFraction: p.MaxPositionSizeFraction,
			MaxDailyLossFraction:    p.MaxDailyLossFraction,
			MinConfidence:           p.MinConfidence,
			KillSwitchLossFraction:  p.KillSwitchLossFraction,
		},
		Strategies:   strategies,
		RiskFreeRate: p.RiskFreeRate,
	}
}

// executionConfig maps the execution section onto the simulator tables.
func executionConfig(cfg *config.Config) execution.Config {
	e := cfg.Execution
	class := func(a config.AssetClassConfig) execution.ClassParams {
		return execution.ClassParams{
			SlippageBps:    execution.Tier{Small: a.SlippageBps.Small, Medium: a.SlippageBps.Medium, Large: a.SlippageBps.Large},
			CommissionRate: a.CommissionRate,
			MinCommission:  a.MinCommission,
			LotStep:        a.LotStep,
		}
	}

	multipliers := make(map[domain.Strategy]float64, len(e.StrategyMultipliers))
	for s, m := range e.StrategyMultipliers {
		multipliers[domain.Strategy(s)] = m
	}
	exits := make(map[domain.Strategy]execution.Exit, len(e.Exits))
	for s, x := range e.Exits {
		exits[domain.Strategy(s)] = execution.Exit{StopLoss: x.StopLoss, TakeProfit: x.TakeProfit}
	}

	return execution.Config{
		PriceTimeout:           cfg.Price.Timeout.Duration,
		NoiseFraction:          e.NoiseFraction,
		SmallOrderMax:          e.SmallOrderMax,
		MediumOrderMax:         e.MediumOrderMax,
		Crypto:                 class(e.Crypto),
		Equity:                 class(e.Equity),
		Multipliers:            multipliers,
		Exits:                  exits,
		ExpectedReturnMultiple: e.ExpectedReturnMultiple,
		CryptoSymbols:          e.CryptoSymbols,
		CryptoQuoteSuffixes:    e.CryptoQuoteSuffixes,
	}
}

func simulatedConfig(cfg *config.Config) feed.SimulatedConfig {
	s := cfg.Price.Simulated
	return feed.SimulatedConfig{
		Seed:       s.Seed,
		Volatility: s.Volatility,
		Drift:      s.Drift,
		Tick:       s.Tick.Duration,
		BasePrices: s.BasePrices,
	}
}

func binanceConfig(cfg *config.Config) feed.BinanceConfig {
	b := cfg.Price.Binance
	return feed.BinanceConfig{
		APIKey:            b.APIKey,
		SecretKey:         b.SecretKey,
		BaseURL:           b.BaseURL,
		Symbols:           b.Symbols,
		RequestsPerSecond: b.RequestsPerSecond,
	}
}

// priceCacheTTL keeps cached quotes a little past the staleness bound so
// CachedSource can report them as stale rather than missing.
func priceCacheTTL(cfg *config.Config) time.Duration {
	if cfg.Price.MaxAge.Duration <= 0 {
		return 0
	}
	return 2 * cfg.Price.MaxAge.Duration
}
