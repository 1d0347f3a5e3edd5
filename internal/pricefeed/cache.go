package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sbtcgateway/server/internal/metrics"
)

// backgroundRefreshTimeout bounds a refresh that runs after the stale quote
// was already served, detached from any request context.
const backgroundRefreshTimeout = 10 * time.Second

// Service serves quotes from a TTL cache in front of a Source. A fresh quote
// is read straight from the cache. An expired quote is still served
// immediately while a single background refresh fetches a replacement, so
// callers never block on a slow upstream once any quote exists. Only a cold
// cache fetches synchronously.
type Service struct {
	source  Source
	ttl     time.Duration
	metrics *metrics.Metrics

	fetchMu sync.Mutex // collapses concurrent cold-cache fetches

	mu         sync.Mutex
	cached     Quote
	hasAny     bool
	refreshing bool
}

// NewService builds a caching quote service.
func NewService(source Source, ttl time.Duration, m *metrics.Metrics) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{source: source, ttl: ttl, metrics: m}
}

// Current returns the cached quote, scheduling a refresh when it expired.
func (s *Service) Current(ctx context.Context) (Quote, error) {
	s.mu.Lock()
	if s.hasAny {
		quote := s.cached
		expired := time.Since(quote.FetchedAt) >= s.ttl
		if expired && !s.refreshing {
			s.refreshing = true
			go s.refreshDetached()
		}
		s.mu.Unlock()
		if expired {
			s.metrics.ObservePriceFeedRefresh("stale_hit")
		}
		return quote, nil
	}
	s.mu.Unlock()

	return s.fetchCold(ctx)
}

// fetchCold fills an empty cache. Concurrent cold callers collapse into one
// upstream fetch and the rest reuse its result.
func (s *Service) fetchCold(ctx context.Context) (Quote, error) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.mu.Lock()
	if s.hasAny {
		quote := s.cached
		s.mu.Unlock()
		return quote, nil
	}
	s.mu.Unlock()

	quote, err := s.source.Quote(ctx)
	if err != nil {
		s.metrics.ObservePriceFeedRefresh("error")
		return Quote{}, fmt.Errorf("refresh quote: %w", err)
	}

	s.mu.Lock()
	s.cached = quote
	s.hasAny = true
	s.mu.Unlock()

	s.metrics.ObservePriceFeedRefresh("success")
	return quote, nil
}

// refreshDetached replaces an expired quote in the background. On upstream
// failure the stale quote simply stays in place for the next attempt.
func (s *Service) refreshDetached() {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
	defer cancel()

	quote, err := s.source.Quote(ctx)

	s.mu.Lock()
	s.refreshing = false
	if err == nil {
		s.cached = quote
		s.hasAny = true
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.ObservePriceFeedRefresh("error")
		return
	}
	s.metrics.ObservePriceFeedRefresh("success")
}
