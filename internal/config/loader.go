package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAPERTRADE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAPERTRADE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Paper ──
	setStr(&cfg.Paper.DefaultOwner, "PAPERTRADE_PAPER_DEFAULT_OWNER")
	setFloat64(&cfg.Paper.InitialCapital, "PAPERTRADE_PAPER_INITIAL_CAPITAL")
	setFloat64(&cfg.Paper.MaxPositionSizeFraction, "PAPERTRADE_PAPER_MAX_POSITION_SIZE_FRACTION")
	setFloat64(&cfg.Paper.MaxDailyLossFraction, "PAPERTRADE_PAPER_MAX_DAILY_LOSS_FRACTION")
	setFloat64(&cfg.Paper.KillSwitchLossFraction, "PAPERTRADE_PAPER_KILL_SWITCH_LOSS_FRACTION")
	setFloat64(&cfg.Paper.MinConfidence, "PAPERTRADE_PAPER_MIN_CONFIDENCE")
	setFloat64(&cfg.Paper.RiskFreeRate, "PAPERTRADE_PAPER_RISK_FREE_RATE")
	setInt(&cfg.Paper.AnnualizationDays, "PAPERTRADE_PAPER_ANNUALIZATION_DAYS")
	setStr(&cfg.Paper.Timezone, "PAPERTRADE_PAPER_TIMEZONE")
	setStringSlice(&cfg.Paper.Strategies, "PAPERTRADE_PAPER_STRATEGIES")

	// ── Execution ──
	setInt64(&cfg.Execution.Seed, "PAPERTRADE_EXECUTION_SEED")
	setFloat64(&cfg.Execution.NoiseFraction, "PAPERTRADE_EXECUTION_NOISE_FRACTION")
	setStringSlice(&cfg.Execution.CryptoSymbols, "PAPERTRADE_EXECUTION_CRYPTO_SYMBOLS")

	// ── Price ──
	setStr(&cfg.Price.Source, "PAPERTRADE_PRICE_SOURCE")
	setStr(&cfg.Price.FeedUpstream, "PAPERTRADE_PRICE_FEED_UPSTREAM")
	setDuration(&cfg.Price.Timeout, "PAPERTRADE_PRICE_TIMEOUT")
	setDuration(&cfg.Price.MaxAge, "PAPERTRADE_PRICE_MAX_AGE")
	setInt64(&cfg.Price.Simulated.Seed, "PAPERTRADE_PRICE_SIMULATED_SEED")
	setStr(&cfg.Price.Binance.APIKey, "PAPERTRADE_BINANCE_API_KEY")
	setStr(&cfg.Price.Binance.SecretKey, "PAPERTRADE_BINANCE_SECRET_KEY")
	setStr(&cfg.Price.Binance.BaseURL, "PAPERTRADE_BINANCE_BASE_URL")
	setStringSlice(&cfg.Price.Binance.Symbols, "PAPERTRADE_BINANCE_SYMBOLS")

	// ── Engine ──
	setDuration(&cfg.Engine.MarkInterval, "PAPERTRADE_ENGINE_MARK_INTERVAL")
	setDuration(&cfg.Engine.SnapshotInterval, "PAPERTRADE_ENGINE_SNAPSHOT_INTERVAL")
	setInt(&cfg.Engine.SnapshotWindow, "PAPERTRADE_ENGINE_SNAPSHOT_WINDOW")
	setBool(&cfg.Engine.ArchiveOnStop, "PAPERTRADE_ENGINE_ARCHIVE_ON_STOP")
	setBool(&cfg.Engine.RecoverOnStart, "PAPERTRADE_ENGINE_RECOVER_ON_START")

	// ── Store ──
	setStr(&cfg.Store.Driver, "PAPERTRADE_STORE_DRIVER")
	setStr(&cfg.Store.SQLitePath, "PAPERTRADE_STORE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAPERTRADE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PAPERTRADE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAPERTRADE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAPERTRADE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAPERTRADE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAPERTRADE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAPERTRADE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAPERTRADE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAPERTRADE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAPERTRADE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PAPERTRADE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PAPERTRADE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPERTRADE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPERTRADE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAPERTRADE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAPERTRADE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAPERTRADE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PAPERTRADE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PAPERTRADE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAPERTRADE_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAPERTRADE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAPERTRADE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAPERTRADE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAPERTRADE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAPERTRADE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAPERTRADE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAPERTRADE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PAPERTRADE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PAPERTRADE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PAPERTRADE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAPERTRADE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAPERTRADE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAPERTRADE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAPERTRADE_NOTIFY_EVENTS")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.TracingEnabled, "PAPERTRADE_TELEMETRY_TRACING_ENABLED")
	setStr(&cfg.Telemetry.ServiceName, "PAPERTRADE_TELEMETRY_SERVICE_NAME")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAPERTRADE_MODE")
	setStr(&cfg.LogLevel, "PAPERTRADE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
