package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	// Payment intent metrics
	IntentsCreatedTotal      prometheus.Counter
	IntentAmountSatsTotal    prometheus.Counter
	TransitionsTotal         *prometheus.CounterVec
	TransitionsRejectedTotal *prometheus.CounterVec

	// Authentication metrics
	AuthFailuresTotal *prometheus.CounterVec

	// Webhook delivery metrics
	WebhooksTotal         *prometheus.CounterVec
	WebhookRetriesTotal   *prometheus.CounterVec
	WebhookExhaustedTotal *prometheus.CounterVec
	WebhookDuration       *prometheus.HistogramVec

	// Price feed metrics
	PriceFeedRefreshTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge

	// HTTP metrics
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		IntentsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sbtcgw_payment_intents_created_total",
			Help: "Total number of payment intents created",
		}),
		IntentAmountSatsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sbtcgw_payment_intent_amount_sats_total",
			Help: "Total satoshi amount across created payment intents",
		}),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbtcgw_intent_transitions_total",
				Help: "Total committed payment intent status transitions",
			},
			[]string{"from", "to"},
		),
		TransitionsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbtcgw_intent_transitions_rejected_total",
				Help: "Total rejected payment intent status transitions",
			},
			[]string{"from", "to"},
		),

		AuthFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbtcgw_auth_failures_total",
				Help: "Total authentication failures by internal reason code",
			},
			[]string{"reason"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbtcgw_webhooks_total",
				Help: "Total webhook delivery outcomes",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbtcgw_webhook_retries_total",
				Help: "Total webhook deliveries that needed more than one attempt",
			},
			[]string{"event_type"},
		),
		WebhookExhaustedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbtcgw_webhook_exhausted_total",
				Help: "Total webhook events that exhausted all retry attempts",
			},
			[]string{"event_type"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sbtcgw_webhook_duration_seconds",
				Help:    "Duration of webhook delivery attempts",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),

		PriceFeedRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbtcgw_price_feed_refresh_total",
				Help: "Total price feed refresh attempts by outcome",
			},
			[]string{"outcome"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbtcgw_rate_limit_hits_total",
				Help: "Total requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sbtcgw_db_query_duration_seconds",
				Help:    "Duration of storage operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sbtcgw_db_connections_active",
			Help: "Active database connections",
		}),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sbtcgw_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route", "status"},
		),
	}
}

// ObserveIntentCreated records a created payment intent.
func (m *Metrics) ObserveIntentCreated(amountSats int64) {
	if m == nil {
		return
	}
	m.IntentsCreatedTotal.Inc()
	m.IntentAmountSatsTotal.Add(float64(amountSats))
}

// ObserveTransition records a status transition attempt.
func (m *Metrics) ObserveTransition(from, to string, committed bool) {
	if m == nil {
		return
	}
	if committed {
		m.TransitionsTotal.WithLabelValues(from, to).Inc()
	} else {
		m.TransitionsRejectedTotal.WithLabelValues(from, to).Inc()
	}
}

// ObserveAuthFailure records an authentication failure by internal reason.
func (m *Metrics) ObserveAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveWebhook records a webhook delivery attempt outcome.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int, exhausted bool) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType).Inc()
	}
	if exhausted {
		m.WebhookExhaustedTotal.WithLabelValues(eventType).Inc()
	}
}

// ObservePriceFeedRefresh records a price feed refresh outcome.
func (m *Metrics) ObservePriceFeedRefresh(outcome string) {
	if m == nil {
		return
	}
	m.PriceFeedRefreshTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimit records a rate limit rejection.
func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records a storage operation.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// SetDBConnections records the current open connection count.
func (m *Metrics) SetDBConnections(n int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(n))
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
