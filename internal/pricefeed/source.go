package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/httputil"
)

// Quote is one BTC/USD spot observation.
type Quote struct {
	Base      string    `json:"base"`     // "BTC"
	Currency  string    `json:"currency"` // "USD"
	Amount    string    `json:"amount"`   // decimal string as reported upstream
	FetchedAt time.Time `json:"fetchedAt"`
}

// Source produces fresh quotes.
type Source interface {
	Quote(ctx context.Context) (Quote, error)
}

// HTTPSource fetches spot quotes from a Coinbase-compatible endpoint. A
// circuit breaker sits in front of the upstream so a flapping feed fails
// fast instead of tying up request handlers.
type HTTPSource struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPSource builds a quote source for the configured feed URL.
func NewHTTPSource(cfg config.PriceFeedConfig) *HTTPSource {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		url:    cfg.URL,
		client: httputil.NewClient(timeout),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "price_feed",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// spotResponse matches the Coinbase spot price envelope.
type spotResponse struct {
	Data struct {
		Base     string `json:"base"`
		Currency string `json:"currency"`
		Amount   string `json:"amount"`
	} `json:"data"`
}

// Quote fetches a fresh spot price through the breaker.
func (s *HTTPSource) Quote(ctx context.Context) (Quote, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return Quote{}, err
	}
	return result.(Quote), nil
}

func (s *HTTPSource) fetch(ctx context.Context) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}

	var body spotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	if body.Data.Amount == "" {
		return Quote{}, fmt.Errorf("price feed returned empty amount")
	}

	return Quote{
		Base:      body.Data.Base,
		Currency:  body.Data.Currency,
		Amount:    body.Data.Amount,
		FetchedAt: time.Now().UTC(),
	}, nil
}
