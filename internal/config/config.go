// Package config defines the top-level configuration for the paper-trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAPERTRADE_* environment variables.
type Config struct {
	Paper     PaperConfig     `toml:"paper"`
	Execution ExecutionConfig `toml:"execution"`
	Price     PriceConfig     `toml:"price"`
	Engine    EngineConfig    `toml:"engine"`
	Store     StoreConfig     `toml:"store"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PaperConfig holds the session defaults applied when a start request
// leaves a field unset.
type PaperConfig struct {
	DefaultOwner            string   `toml:"default_owner"`
	InitialCapital          float64  `toml:"initial_capital"`
	MaxPositionSizeFraction float64  `toml:"max_position_size_fraction"`
	MaxDailyLossFraction    float64  `toml:"max_daily_loss_fraction"`
	KillSwitchLossFraction  float64  `toml:"kill_switch_loss_fraction"`
	MinConfidence           float64  `toml:"min_confidence"`
	RiskFreeRate            float64  `toml:"risk_free_rate"`
	AnnualizationDays       int      `toml:"annualization_days"`
	Timezone                string   `toml:"timezone"`
	Strategies              []string `toml:"strategies"`
}

// TierConfig holds one value per order-size bucket.
type TierConfig struct {
	Small  float64 `toml:"small"`
	Medium float64 `toml:"medium"`
	Large  float64 `toml:"large"`
}

// AssetClassConfig holds the slippage, commission and lot parameters of one
// symbol class.
type AssetClassConfig struct {
	SlippageBps    TierConfig `toml:"slippage_bps"`
	CommissionRate float64    `toml:"commission_rate"`
	MinCommission  float64    `toml:"min_commission"`
	LotStep        float64    `toml:"lot_step"`
}

// ExitConfig holds the protective levels of one strategy as fractions of
// the fill price.
type ExitConfig struct {
	StopLoss   float64 `toml:"stop_loss"`
	TakeProfit float64 `toml:"take_profit"`
}

// ExecutionConfig parameterises the execution simulator.
type ExecutionConfig struct {
	Seed                   int64                 `toml:"seed"` // 0 seeds from the clock
	NoiseFraction          float64               `toml:"noise_fraction"`
	SmallOrderMax          float64               `toml:"small_order_max"`
	MediumOrderMax         float64               `toml:"medium_order_max"`
	Crypto                 AssetClassConfig      `toml:"crypto"`
	Equity                 AssetClassConfig      `toml:"equity"`
	StrategyMultipliers    map[string]float64    `toml:"strategy_multipliers"`
	Exits                  map[string]ExitConfig `toml:"exits"`
	ExpectedReturnMultiple float64               `toml:"expected_return_multiple"`
	CryptoSymbols          []string              `toml:"crypto_symbols"`
	CryptoQuoteSuffixes    []string              `toml:"crypto_quote_suffixes"`
}

// PriceConfig selects and tunes the price source.
type PriceConfig struct {
	// Source is what the orchestrator queries: "simulated", "redis" or "binance".
	Source string `toml:"source"`
	// FeedUpstream is what the feed mode publishes into the price cache:
	// "simulated" or "binance".
	FeedUpstream string          `toml:"feed_upstream"`
	Timeout      duration        `toml:"timeout"`
	MaxAge       duration        `toml:"max_age"`
	Simulated    SimulatedConfig `toml:"simulated"`
	Binance      BinanceConfig   `toml:"binance"`
}

// SimulatedConfig drives the geometric Brownian motion price generator.
type SimulatedConfig struct {
	Seed       int64              `toml:"seed"`
	Volatility float64            `toml:"volatility"` // annualized
	Drift      float64            `toml:"drift"`      // annualized
	Tick       duration           `toml:"tick"`
	BasePrices map[string]float64 `toml:"base_prices"`
}

// BinanceConfig holds the Binance futures ticker poller parameters.
type BinanceConfig struct {
	APIKey            string   `toml:"api_key"`
	SecretKey         string   `toml:"secret_key"`
	BaseURL           string   `toml:"base_url"`
	Symbols           []string `toml:"symbols"`
	PollInterval      duration `toml:"poll_interval"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

// EngineConfig holds the background loop parameters of the orchestrator.
type EngineConfig struct {
	MarkInterval     duration `toml:"mark_interval"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	SnapshotWindow   int      `toml:"snapshot_window"`
	LockTTL          duration `toml:"lock_ttl"`
	ArchiveOnStop    bool     `toml:"archive_on_stop"`
	RecoverOnStart   bool     `toml:"recover_on_start"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is one of "postgres", "sqlite" or "memory".
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	MaxRetries    int    `toml:"max_retries"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	TriggerStream string `toml:"trigger_stream"`
	ConsumerGroup string `toml:"consumer_group"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client; 0 disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	TracingEnabled bool   `toml:"tracing_enabled"`
	ServiceName    string `toml:"service_name"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Paper: PaperConfig{
			DefaultOwner:            "local",
			InitialCapital:          100_000,
			MaxPositionSizeFraction: 0.10,
			MaxDailyLossFraction:    0.05,
			KillSwitchLossFraction:  0.10,
			MinConfidence:           0.60,
			RiskFreeRate:            0.065,
			AnnualizationDays:       252,
			Timezone:                "Asia/Kolkata",
		},
		Execution: ExecutionConfig{
			NoiseFraction:  0.25,
			SmallOrderMax:  5_000,
			MediumOrderMax: 20_000,
			Crypto: AssetClassConfig{
				SlippageBps:    TierConfig{Small: 5, Medium: 10, Large: 20},
				CommissionRate: 0.001,
				MinCommission:  0.10,
				LotStep:        0.00001,
			},
			Equity: AssetClassConfig{
				SlippageBps:    TierConfig{Small: 2, Medium: 5, Large: 10},
				CommissionRate: 0.0003,
				MinCommission:  1.0,
				LotStep:        1,
			},
			StrategyMultipliers: map[string]float64{
				"scalping":       1.2,
				"momentum":       1.0,
				"swing":          0.8,
				"mean_reversion": 1.0,
				"breakout":       1.1,
				"arbitrage":      2.0,
			},
			Exits: map[string]ExitConfig{
				"scalping":       {StopLoss: 0.005, TakeProfit: 0.01},
				"momentum":       {StopLoss: 0.02, TakeProfit: 0.04},
				"swing":          {StopLoss: 0.05, TakeProfit: 0.10},
				"mean_reversion": {StopLoss: 0.015, TakeProfit: 0.03},
				"breakout":       {StopLoss: 0.02, TakeProfit: 0.05},
				"arbitrage":      {StopLoss: 0.003, TakeProfit: 0.006},
			},
			ExpectedReturnMultiple: 1.5,
			CryptoSymbols: []string{
				"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
				"ADAUSDT", "DOGEUSDT", "DOTUSDT", "MATICUSDT", "LTCUSDT",
			},
			CryptoQuoteSuffixes: []string{"USDT", "USDC", "BUSD"},
		},
		Price: PriceConfig{
			Source:       "simulated",
			FeedUpstream: "simulated",
			Timeout:      duration{2 * time.Second},
			MaxAge:       duration{30 * time.Second},
			Simulated: SimulatedConfig{
				Volatility: 0.40,
				Tick:       duration{time.Second},
				BasePrices: map[string]float64{
					"BTCUSDT":  45_000,
					"ETHUSDT":  2_500,
					"SOLUSDT":  100,
					"RELIANCE": 2_900,
					"TCS":      3_800,
					"INFY":     1_500,
					"NIFTY":    22_000,
				},
			},
			Binance: BinanceConfig{
				Symbols:           []string{"BTCUSDT", "ETHUSDT"},
				PollInterval:      duration{2 * time.Second},
				RequestsPerSecond: 10,
			},
		},
		Engine: EngineConfig{
			MarkInterval:     duration{5 * time.Second},
			SnapshotInterval: duration{time.Minute},
			SnapshotWindow:   500,
			LockTTL:          duration{10 * time.Second},
			ArchiveOnStop:    true,
			RecoverOnStart:   true,
		},
		Store: StoreConfig{
			Driver:     "postgres",
			SQLitePath: "data/papertrade.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "papertrade",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:       true,
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			TriggerStream: "papertrade:triggers",
			ConsumerGroup: "notifier",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "papertrade-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   600,
		},
		Notify: NotifyConfig{
			Events: []string{"session_started", "session_stopped", "session_terminated", "stop_loss", "take_profit"},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "papertrade",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade": true,
	"feed":  true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPriceSources = map[string]bool{
	"simulated": true,
	"redis":     true,
	"binance":   true,
}

var validFeedUpstreams = map[string]bool{
	"simulated": true,
	"binance":   true,
}

var validStoreDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, feed, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Paper
	p := c.Paper
	if p.InitialCapital <= 0 {
		errs = append(errs, "paper: initial_capital must be > 0")
	}
	if p.MaxPositionSizeFraction <= 0 || p.MaxPositionSizeFraction > 1 {
		errs = append(errs, "paper: max_position_size_fraction must be in (0, 1]")
	}
	if p.MaxDailyLossFraction <= 0 || p.MaxDailyLossFraction > 1 {
		errs = append(errs, "paper: max_daily_loss_fraction must be in (0, 1]")
	}
	if p.KillSwitchLossFraction < 0 || p.KillSwitchLossFraction > 1 {
		errs = append(errs, "paper: kill_switch_loss_fraction must be in [0, 1]")
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		errs = append(errs, "paper: min_confidence must be in [0, 1]")
	}
	if p.AnnualizationDays <= 0 {
		errs = append(errs, "paper: annualization_days must be > 0")
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("paper: timezone %q: %v", p.Timezone, err))
	}
	for _, s := range p.Strategies {
		if _, ok := c.Execution.StrategyMultipliers[s]; !ok {
			errs = append(errs, fmt.Sprintf("paper: strategy %q has no execution.strategy_multipliers entry", s))
		}
	}

	// Execution
	e := c.Execution
	if e.NoiseFraction < 0 || e.NoiseFraction >= 1 {
		errs = append(errs, "execution: noise_fraction must be in [0, 1)")
	}
	if e.SmallOrderMax <= 0 || e.MediumOrderMax <= e.SmallOrderMax {
		errs = append(errs, "execution: require 0 < small_order_max < medium_order_max")
	}
	for name, ac := range map[string]AssetClassConfig{"crypto": e.Crypto, "equity": e.Equity} {
		if ac.SlippageBps.Small < 0 || ac.SlippageBps.Medium < 0 || ac.SlippageBps.Large < 0 {
			errs = append(errs, fmt.Sprintf("execution.%s: slippage_bps must not be negative", name))
		}
		if ac.CommissionRate < 0 || ac.MinCommission < 0 {
			errs = append(errs, fmt.Sprintf("execution.%s: commission parameters must not be negative", name))
		}
		if ac.LotStep <= 0 {
			errs = append(errs, fmt.Sprintf("execution.%s: lot_step must be > 0", name))
		}
	}
	for s, m := range e.StrategyMultipliers {
		if m < 0 {
			errs = append(errs, fmt.Sprintf("execution: strategy multiplier %q must not be negative", s))
		}
		if _, ok := e.Exits[s]; !ok {
			errs = append(errs, fmt.Sprintf("execution: strategy %q has no exits entry", s))
		}
	}
	for s, x := range e.Exits {
		if x.StopLoss <= 0 || x.StopLoss >= 1 || x.TakeProfit <= 0 {
			errs = append(errs, fmt.Sprintf("execution: exits for %q must have 0 < stop_loss < 1 and take_profit > 0", s))
		}
	}
	if e.ExpectedReturnMultiple < 0 {
		errs = append(errs, "execution: expected_return_multiple must not be negative")
	}

	// Price
	if !validPriceSources[strings.ToLower(c.Price.Source)] {
		errs = append(errs, fmt.Sprintf("price: unknown source %q (valid: simulated, redis, binance)", c.Price.Source))
	}
	if c.Price.Timeout.Duration <= 0 {
		errs = append(errs, "price: timeout must be > 0")
	}
	if c.Price.Source == "redis" && !c.Redis.Enabled {
		errs = append(errs, "price: source redis requires redis.enabled")
	}
	if c.Price.Source == "simulated" && c.Price.Simulated.Tick.Duration <= 0 {
		errs = append(errs, "price.simulated: tick must be > 0")
	}
	if !validFeedUpstreams[strings.ToLower(c.Price.FeedUpstream)] {
		errs = append(errs, fmt.Sprintf("price: unknown feed_upstream %q (valid: simulated, binance)", c.Price.FeedUpstream))
	}
	if (c.Price.Source == "binance" || c.Price.FeedUpstream == "binance") && c.Price.Binance.PollInterval.Duration <= 0 {
		errs = append(errs, "price.binance: poll_interval must be > 0")
	}
	if c.Mode != "trade" && !c.Redis.Enabled {
		errs = append(errs, fmt.Sprintf("mode %s publishes prices and requires redis.enabled", c.Mode))
	}

	// Engine
	if c.Engine.MarkInterval.Duration <= 0 {
		errs = append(errs, "engine: mark_interval must be > 0")
	}
	if c.Engine.SnapshotInterval.Duration <= 0 {
		errs = append(errs, "engine: snapshot_interval must be > 0")
	}
	if c.Engine.SnapshotWindow < 1 {
		errs = append(errs, "engine: snapshot_window must be >= 1")
	}

	// Store
	if !validStoreDrivers[strings.ToLower(c.Store.Driver)] {
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite, memory)", c.Store.Driver))
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		errs = append(errs, "store: sqlite_path must not be empty for the sqlite driver")
	}
	if c.Store.Driver == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.TriggerStream == "" || c.Redis.ConsumerGroup == "" {
			errs = append(errs, "redis: trigger_stream and consumer_group must not be empty")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled (set rate_limit = 0 to disable)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
