package config

import "maps"

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Price.Binance.APIKey)
	redact(&out.Price.Binance.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Paper.Strategies = append([]string(nil), cfg.Paper.Strategies...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Price.Binance.Symbols = append([]string(nil), cfg.Price.Binance.Symbols...)
	out.Execution.CryptoSymbols = append([]string(nil), cfg.Execution.CryptoSymbols...)
	out.Execution.CryptoQuoteSuffixes = append([]string(nil), cfg.Execution.CryptoQuoteSuffixes...)
	out.Execution.StrategyMultipliers = maps.Clone(cfg.Execution.StrategyMultipliers)
	out.Execution.Exits = maps.Clone(cfg.Execution.Exits)
	out.Price.Simulated.BasePrices = maps.Clone(cfg.Price.Simulated.BasePrices)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
