package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/intent"
	"github.com/sbtcgateway/server/internal/logger"
	"github.com/sbtcgateway/server/internal/merchant"
	"github.com/sbtcgateway/server/internal/metrics"
	"github.com/sbtcgateway/server/internal/pricefeed"
	"github.com/sbtcgateway/server/internal/ratelimit"
	"github.com/sbtcgateway/server/internal/storage"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg     *config.Config
	intents *intent.Service
	auth    *merchant.Authenticator
	store   storage.Store
	prices  *pricefeed.Service
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Options carries the server's dependencies.
type Options struct {
	Config  *config.Config
	Intents *intent.Service
	Auth    *merchant.Authenticator
	Store   storage.Store
	Prices  *pricefeed.Service
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// New builds the HTTP server with a configured router.
func New(opts Options) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:     opts.Config,
			intents: opts.Intents,
			auth:    opts.Auth,
			store:   opts.Store,
			prices:  opts.Prices,
			metrics: opts.Metrics,
			logger:  opts.Logger,
		},
		httpServer: &http.Server{
			Addr:         opts.Config.Server.Address,
			ReadTimeout:  opts.Config.Server.ReadTimeout.Duration,
			WriteTimeout: opts.Config.Server.WriteTimeout.Duration,
			IdleTimeout:  opts.Config.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router)
	return s
}

// Router exposes a configured router for embedding into a host application.
func Router(opts Options) chi.Router {
	router := chi.NewRouter()
	s := &Server{handlers: handlers{
		cfg:     opts.Config,
		intents: opts.Intents,
		auth:    opts.Auth,
		store:   opts.Store,
		prices:  opts.Prices,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}}
	s.configureRouter(router)
	return router
}

func (s *Server) configureRouter(router chi.Router) {
	cfg := s.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)

	// Logging before RequestID so the request id lands in the context logger.
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(s.httpMetricsMiddleware)

	router.Use(ratelimit.GlobalLimiter(cfg.RateLimit, s.metrics))
	router.Use(ratelimit.IPLimiter(cfg.RateLimit, s.metrics))

	// Lightweight endpoints: health checks and metrics.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", s.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle("/metrics", promhttp.Handler())
	})

	// Payment API.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.With(s.auth.RequireAuth).Post("/payment_intents", s.createPaymentIntent)
		r.Get("/payment_intents", s.getPaymentIntentByQuery)
		r.Get("/payment_intents/{id}", s.getPaymentIntent)
		r.Post("/payment_intents/{id}/status", s.updatePaymentIntentStatus)

		r.With(s.auth.RequireAuth).Post("/webhooks", s.createWebhookEndpoint)
		r.With(s.auth.RequireAuth).Get("/webhooks", s.listWebhookEndpoints)
		r.With(s.auth.RequireAuth).Get("/events", s.listEvents)

		r.Get("/price", s.currentPrice)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
