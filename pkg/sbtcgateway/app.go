// Package sbtcgateway assembles the payment gateway for embedding into a
// host application or for standalone serving from cmd/gateway.
package sbtcgateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/httpserver"
	"github.com/sbtcgateway/server/internal/intent"
	"github.com/sbtcgateway/server/internal/lifecycle"
	"github.com/sbtcgateway/server/internal/logger"
	"github.com/sbtcgateway/server/internal/merchant"
	"github.com/sbtcgateway/server/internal/metrics"
	"github.com/sbtcgateway/server/internal/pricefeed"
	"github.com/sbtcgateway/server/internal/storage"
	"github.com/sbtcgateway/server/internal/token"
	"github.com/sbtcgateway/server/internal/webhooks"
)

// App wires the gateway components: storage, intent lifecycle, webhook
// fanout and delivery, price feed, and the HTTP surface.
type App struct {
	Config  *config.Config
	Store   storage.Store
	Intents *intent.Service
	Auth    *merchant.Authenticator
	Prices  *pricefeed.Service
	Worker  *webhooks.QueueWorker

	router           chi.Router
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store       storage.Store
	router      chi.Router
	priceSource pricefeed.Source
	registerer  prometheus.Registerer
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRouter registers routes onto an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithPriceSource injects a custom quote source.
func WithPriceSource(source pricefeed.Source) Option {
	return func(o *options) {
		o.priceSource = source
	}
}

// WithRegisterer sets the Prometheus registry for metrics. Defaults to
// the global registerer.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = registerer
	}
}

// NewApp assembles the gateway services for embedding.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("sbtcgateway: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := storage.New(cfg.Storage)
		if err != nil {
			return nil, err
		}
		app.Store = store
		app.resourceManager.Register("storage", app.Store)
		if cfg.Storage.Backend == "memory" {
			log.Warn().Msg("sbtcgateway: using in-memory store, state is lost on restart")
		}
	}

	registerer := optState.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	app.metricsCollector = metrics.New(registerer)
	if pg, ok := app.Store.(*storage.PostgresStore); ok {
		pg.WithMetrics(app.metricsCollector)
	}

	if cfg.Auth.AllowTestCredential {
		if err := seedTestMerchant(app.Store, cfg.Auth); err != nil {
			return nil, err
		}
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "sbtc-gateway",
		Environment: cfg.Logging.Environment,
	})

	dispatcher := webhooks.NewDispatcher(app.Store, cfg.Webhooks.Retry)
	app.Intents = intent.NewService(app.Store, dispatcher, app.metricsCollector, cfg.Checkout.BaseURL)
	app.Auth = merchant.NewAuthenticator(app.Store, app.metricsCollector, cfg.Auth)

	var priceSource pricefeed.Source
	if optState.priceSource != nil {
		priceSource = optState.priceSource
	} else if cfg.PriceFeed.URL != "" {
		priceSource = pricefeed.NewHTTPSource(cfg.PriceFeed)
	}
	if priceSource != nil {
		app.Prices = pricefeed.NewService(priceSource, cfg.PriceFeed.TTL.Duration, app.metricsCollector)
	}

	app.Worker = webhooks.NewQueueWorker(webhooks.QueueWorkerOptions{
		Store:   app.Store,
		Config:  cfg.Webhooks,
		Logger:  appLogger,
		Metrics: app.metricsCollector,
	})
	app.resourceManager.RegisterFunc("webhook-worker", func() error {
		app.Worker.Stop()
		return nil
	})

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	serverRouter := httpserver.Router(httpserver.Options{
		Config:  cfg,
		Intents: app.Intents,
		Auth:    app.Auth,
		Store:   app.Store,
		Prices:  app.Prices,
		Metrics: app.metricsCollector,
		Logger:  appLogger,
	})
	app.router.Mount("/", serverRouter)

	return app, nil
}

// Start launches background workers. Call Close to stop them.
func (a *App) Start(ctx context.Context) {
	a.Worker.Start(ctx)
}

// Router returns the chi router with gateway routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close stops workers and releases resources in reverse registration order.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// seedTestMerchant ensures the development merchant backing the test
// credential exists. Config validation already refuses this path in
// production.
func seedTestMerchant(store storage.Store, cfg config.AuthConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := store.GetMerchant(ctx, cfg.TestMerchantID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	err := store.CreateMerchant(ctx, storage.Merchant{
		ID:         cfg.TestMerchantID,
		Name:       "Test Merchant",
		Email:      "test@localhost",
		APIKeyHash: token.Hash(cfg.TestCredentialKey),
		CreatedAt:  time.Now().UTC(),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return nil
	}
	return err
}
