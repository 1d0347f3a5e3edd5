package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. All env
// vars use the SBTC_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "SBTC_SERVER_ADDRESS")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "SBTC_ADMIN_METRICS_API_KEY")
	if v := os.Getenv("SBTC_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitAndTrim(v)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "SBTC_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "SBTC_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "SBTC_ENVIRONMENT")

	// Auth config
	setBoolIfEnv(&c.Auth.AllowTestCredential, "SBTC_ALLOW_TEST_CREDENTIAL")
	setIfEnv(&c.Auth.TestCredentialKey, "SBTC_TEST_CREDENTIAL_KEY")
	setIfEnv(&c.Auth.TestMerchantID, "SBTC_TEST_MERCHANT_ID")

	// Checkout config
	setIfEnv(&c.Checkout.BaseURL, "SBTC_CHECKOUT_BASE_URL")

	// Storage config
	setIfEnv(&c.Storage.Backend, "SBTC_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "SBTC_POSTGRES_URL")
	setIntIfEnv(&c.Storage.PostgresPool.MaxOpenConns, "SBTC_POSTGRES_MAX_OPEN_CONNS")
	setIntIfEnv(&c.Storage.PostgresPool.MaxIdleConns, "SBTC_POSTGRES_MAX_IDLE_CONNS")
	setDurationIfEnv(&c.Storage.PostgresPool.ConnMaxLifetime, "SBTC_POSTGRES_CONN_MAX_LIFETIME")

	// Webhook delivery config
	setDurationIfEnv(&c.Webhooks.Timeout, "SBTC_WEBHOOK_TIMEOUT")
	setDurationIfEnv(&c.Webhooks.PollInterval, "SBTC_WEBHOOK_POLL_INTERVAL")
	setBoolIfEnv(&c.Webhooks.Retry.Enabled, "SBTC_WEBHOOK_RETRY_ENABLED")
	setIntIfEnv(&c.Webhooks.Retry.MaxAttempts, "SBTC_WEBHOOK_MAX_ATTEMPTS")
	setDurationIfEnv(&c.Webhooks.Retry.InitialInterval, "SBTC_WEBHOOK_INITIAL_INTERVAL")
	setDurationIfEnv(&c.Webhooks.Retry.MaxInterval, "SBTC_WEBHOOK_MAX_INTERVAL")

	// Price feed config
	setIfEnv(&c.PriceFeed.URL, "SBTC_PRICE_FEED_URL")
	setDurationIfEnv(&c.PriceFeed.TTL, "SBTC_PRICE_FEED_TTL")
	setDurationIfEnv(&c.PriceFeed.Timeout, "SBTC_PRICE_FEED_TIMEOUT")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "SBTC_RATE_LIMIT_GLOBAL_ENABLED")
	setIntIfEnv(&c.RateLimit.GlobalLimit, "SBTC_RATE_LIMIT_GLOBAL_LIMIT")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "SBTC_RATE_LIMIT_PER_IP_ENABLED")
	setIntIfEnv(&c.RateLimit.PerIPLimit, "SBTC_RATE_LIMIT_PER_IP_LIMIT")
}

// setIfEnv assigns the env var value to target when the var is set and non-empty.
func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// setBoolIfEnv assigns a parsed boolean when the var is set and valid.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

// setIntIfEnv assigns a parsed integer when the var is set and valid.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

// setDurationIfEnv assigns a parsed duration when the var is set and valid.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: parsed}
		}
	}
}

// splitAndTrim splits a comma separated list, dropping empty entries.
func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
