package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "trade"
log_level = "debug"

[paper]
initial_capital = 250000
min_confidence = 0.75

[execution.crypto.slippage_bps]
small = 7

[price]
timeout = "750ms"

[engine]
mark_interval = "10s"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "trade" || cfg.LogLevel != "debug" {
		t.Errorf("top-level fields not decoded: mode=%q log_level=%q", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Paper.InitialCapital != 250000 {
		t.Errorf("initial_capital = %v, want 250000", cfg.Paper.InitialCapital)
	}
	if cfg.Paper.MinConfidence != 0.75 {
		t.Errorf("min_confidence = %v, want 0.75", cfg.Paper.MinConfidence)
	}
	if cfg.Execution.Crypto.SlippageBps.Small != 7 {
		t.Errorf("crypto small slippage = %v, want 7", cfg.Execution.Crypto.SlippageBps.Small)
	}
	if cfg.Execution.Crypto.SlippageBps.Large != 20 {
		t.Errorf("crypto large slippage should keep default 20, got %v", cfg.Execution.Crypto.SlippageBps.Large)
	}
	if cfg.Price.Timeout.Duration != 750*time.Millisecond {
		t.Errorf("price timeout = %v, want 750ms", cfg.Price.Timeout.Duration)
	}
	if cfg.Engine.MarkInterval.Duration != 10*time.Second {
		t.Errorf("mark interval = %v, want 10s", cfg.Engine.MarkInterval.Duration)
	}
	if cfg.Paper.AnnualizationDays != 252 {
		t.Errorf("annualization days should keep default 252, got %d", cfg.Paper.AnnualizationDays)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PAPERTRADE_PAPER_INITIAL_CAPITAL", "5000")
	t.Setenv("PAPERTRADE_STORE_DRIVER", "memory")
	t.Setenv("PAPERTRADE_ENGINE_SNAPSHOT_INTERVAL", "90s")
	t.Setenv("PAPERTRADE_PAPER_STRATEGIES", "scalping, swing ,")
	t.Setenv("PAPERTRADE_REDIS_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paper.InitialCapital != 5000 {
		t.Errorf("initial capital = %v, want 5000", cfg.Paper.InitialCapital)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Engine.SnapshotInterval.Duration != 90*time.Second {
		t.Errorf("snapshot interval = %v, want 90s", cfg.Engine.SnapshotInterval.Duration)
	}
	if got := strings.Join(cfg.Paper.Strategies, ","); got != "scalping,swing" {
		t.Errorf("strategies = %q, want scalping,swing", got)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should be disabled by env override")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{
			name:   "bad mode",
			mutate: func(c *Config) { c.Mode = "backtest" },
			want:   []string{`unknown mode "backtest"`},
		},
		{
			name: "bad risk fractions",
			mutate: func(c *Config) {
				c.Paper.MaxPositionSizeFraction = 0
				c.Paper.MaxDailyLossFraction = 1.5
			},
			want: []string{"max_position_size_fraction", "max_daily_loss_fraction"},
		},
		{
			name:   "strategy without tables",
			mutate: func(c *Config) { c.Paper.Strategies = []string{"pairs"} },
			want:   []string{`strategy "pairs" has no execution.strategy_multipliers entry`},
		},
		{
			name:   "bad noise",
			mutate: func(c *Config) { c.Execution.NoiseFraction = 1 },
			want:   []string{"noise_fraction"},
		},
		{
			name: "redis source without redis",
			mutate: func(c *Config) {
				c.Price.Source = "redis"
				c.Redis.Enabled = false
				c.Server.RateLimit = 0
			},
			want: []string{"source redis requires redis.enabled", "requires redis.enabled"},
		},
		{
			name:   "unknown store",
			mutate: func(c *Config) { c.Store.Driver = "mongo" },
			want:   []string{`unknown driver "mongo"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = ""

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != "***" || out.Server.APIKey != "***" {
		t.Errorf("secrets not redacted: %+v %+v", out.Postgres, out.Server)
	}
	if out.Notify.TelegramToken != "" {
		t.Errorf("empty secret should stay empty, got %q", out.Notify.TelegramToken)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Error("original config was mutated")
	}

	out.Execution.StrategyMultipliers["scalping"] = 99
	if cfg.Execution.StrategyMultipliers["scalping"] == 99 {
		t.Error("redacted copy shares the multiplier map with the original")
	}
}
