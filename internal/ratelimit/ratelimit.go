package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/httprate"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/errors"
	"github.com/sbtcgateway/server/internal/metrics"
)

// noopMiddleware passes every request through.
func noopMiddleware(next http.Handler) http.Handler {
	return next
}

// limitHandler renders the standard error envelope for a tripped limiter
// and records the event.
func limitHandler(limitType string, windowSeconds int, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		m.ObserveRateLimit(limitType)
		w.Header().Set("Retry-After", strconv.Itoa(windowSeconds))
		errors.WriteError(w, errors.ErrCodeRateLimited,
			"rate limit exceeded, retry later",
			map[string]any{"retryAfterSeconds": windowSeconds})
	}
}

// GlobalLimiter caps total request throughput across all clients.
func GlobalLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled || cfg.GlobalLimit <= 0 {
		return noopMiddleware
	}
	window := cfg.GlobalWindow.Duration
	return httprate.Limit(
		cfg.GlobalLimit,
		window,
		httprate.WithLimitHandler(limitHandler("global", int(window.Seconds()), m)),
	)
}

// IPLimiter caps request throughput per client IP.
func IPLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled || cfg.PerIPLimit <= 0 {
		return noopMiddleware
	}
	window := cfg.PerIPWindow.Duration
	return httprate.Limit(
		cfg.PerIPLimit,
		window,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("per_ip", int(window.Seconds()), m)),
	)
}
