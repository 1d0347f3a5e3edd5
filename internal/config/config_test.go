package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("Server.Address = %q, want :8080", cfg.Server.Address)
	}
	if cfg.Auth.AllowTestCredential {
		t.Error("AllowTestCredential must default to false")
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Storage.Backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Webhooks.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.Webhooks.Retry.MaxAttempts)
	}
	if cfg.Webhooks.Timeout.Duration != 10*time.Second {
		t.Errorf("Webhooks.Timeout = %v, want 10s", cfg.Webhooks.Timeout.Duration)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  address: ":9090"
logging:
  level: debug
  environment: staging
webhooks:
  timeout: 3s
  retry:
    max_attempts: 7
    initial_interval: 500ms
    multiplier: 1.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("Server.Address = %q, want :9090", cfg.Server.Address)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Webhooks.Timeout.Duration != 3*time.Second {
		t.Errorf("Webhooks.Timeout = %v, want 3s", cfg.Webhooks.Timeout.Duration)
	}
	if cfg.Webhooks.Retry.MaxAttempts != 7 {
		t.Errorf("Retry.MaxAttempts = %d, want 7", cfg.Webhooks.Retry.MaxAttempts)
	}
	if cfg.Webhooks.Retry.InitialInterval.Duration != 500*time.Millisecond {
		t.Errorf("Retry.InitialInterval = %v, want 500ms", cfg.Webhooks.Retry.InitialInterval.Duration)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SBTC_SERVER_ADDRESS", ":7070")
	t.Setenv("SBTC_LOG_LEVEL", "warn")
	t.Setenv("SBTC_WEBHOOK_MAX_ATTEMPTS", "3")
	t.Setenv("SBTC_ALLOW_TEST_CREDENTIAL", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":7070" {
		t.Errorf("Server.Address = %q, want :7070", cfg.Server.Address)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Webhooks.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Webhooks.Retry.MaxAttempts)
	}
	if !cfg.Auth.AllowTestCredential {
		t.Error("AllowTestCredential should be overridden to true")
	}
}

func TestLoad_TestCredentialRefusedInProduction(t *testing.T) {
	t.Setenv("SBTC_ENVIRONMENT", "production")
	t.Setenv("SBTC_ALLOW_TEST_CREDENTIAL", "true")

	if _, err := Load(""); err == nil {
		t.Fatal("expected Load to fail when test credential is enabled in production")
	}
}

func TestLoad_PostgresBackendRequiresURL(t *testing.T) {
	t.Setenv("SBTC_STORAGE_BACKEND", "postgres")

	if _, err := Load(""); err == nil {
		t.Fatal("expected Load to fail without postgres_url")
	}
}

func TestLoad_ShrinkingBackoffRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
webhooks:
  retry:
    multiplier: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject multiplier < 1.0")
	}
}
