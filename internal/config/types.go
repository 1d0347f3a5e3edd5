package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or bare
// numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and
// environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	Storage   StorageConfig   `yaml:"storage"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	PriceFeed PriceFeedConfig `yaml:"price_feed"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	// AdminMetricsAPIKey optionally protects /metrics. Empty disables protection.
	AdminMetricsAPIKey string `yaml:"admin_metrics_api_key"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, console
	Environment string `yaml:"environment"`
}

// AuthConfig holds merchant authentication configuration.
type AuthConfig struct {
	// AllowTestCredential accepts the fixed seed-merchant key. It must stay
	// false in any deployed environment; finalize() refuses the combination
	// of AllowTestCredential=true and Environment="production".
	AllowTestCredential bool `yaml:"allow_test_credential"`
	// TestCredentialKey is the distinguished key accepted when
	// AllowTestCredential is set.
	TestCredentialKey string `yaml:"test_credential_key"`
	// TestMerchantID is the seed merchant the test credential resolves to.
	TestMerchantID string `yaml:"test_merchant_id"`
}

// CheckoutConfig holds hosted checkout configuration.
type CheckoutConfig struct {
	// BaseURL is the public origin of the hosted checkout page, used to
	// build the checkoutUrl returned on intent creation.
	BaseURL string `yaml:"base_url"`
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend      string             `yaml:"backend"` // "memory" or "postgres"
	PostgresURL  string             `yaml:"postgres_url"`
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// WebhooksConfig holds outbound webhook delivery configuration.
type WebhooksConfig struct {
	Timeout      Duration    `yaml:"timeout"`       // per-attempt delivery timeout
	PollInterval Duration    `yaml:"poll_interval"` // queue worker poll cadence
	Retry        RetryConfig `yaml:"retry"`
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// PriceFeedConfig holds BTC/USD quote feed configuration.
type PriceFeedConfig struct {
	URL     string   `yaml:"url"`
	TTL     Duration `yaml:"ttl"`
	Timeout Duration `yaml:"timeout"`
}

// RateLimitConfig holds request rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`
	PerIPEnabled  bool     `yaml:"per_ip_enabled"`
	PerIPLimit    int      `yaml:"per_ip_limit"`
	PerIPWindow   Duration `yaml:"per_ip_window"`
}
