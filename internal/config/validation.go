package config

import (
	"fmt"
	"strings"
)

// finalize validates the assembled config and fills dependent defaults.
// It fails closed on security-relevant misconfiguration rather than warning.
func (c *Config) finalize() error {
	if c.Server.Address == "" {
		return fmt.Errorf("config: server.address is required")
	}

	switch c.Storage.Backend {
	case "memory":
		// nothing to validate
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("config: storage.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	// The fixed test credential is a deliberate backdoor for local and CI
	// use. It must never be reachable in production, no matter what the
	// environment variables say.
	if c.Auth.AllowTestCredential && c.IsProduction() {
		return fmt.Errorf("config: auth.allow_test_credential cannot be enabled in production")
	}

	if c.Webhooks.Retry.MaxAttempts <= 0 {
		c.Webhooks.Retry.MaxAttempts = 5
	}
	if c.Webhooks.Retry.Multiplier < 1.0 {
		return fmt.Errorf("config: webhooks.retry.multiplier must be >= 1.0 (backoff must not shrink)")
	}
	if c.Webhooks.Timeout.Duration <= 0 {
		return fmt.Errorf("config: webhooks.timeout must be positive")
	}

	if c.PriceFeed.TTL.Duration <= 0 {
		return fmt.Errorf("config: price_feed.ttl must be positive")
	}

	c.Checkout.BaseURL = strings.TrimRight(c.Checkout.BaseURL, "/")

	return nil
}

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Logging.Environment))
	return env == "production" || env == "prod"
}
