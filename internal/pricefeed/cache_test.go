package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sbtcgateway/server/internal/config"
)

type stubSource struct {
	mu    sync.Mutex
	calls int
	quote Quote
	err   error
}

func (s *stubSource) Quote(ctx context.Context) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Quote{}, s.err
	}
	q := s.quote
	q.FetchedAt = time.Now()
	return q, nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubSource) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubSource) setAmount(amount string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote.Amount = amount
}

func TestServiceCachesWithinTTL(t *testing.T) {
	source := &stubSource{quote: Quote{Base: "BTC", Currency: "USD", Amount: "64000.00"}}
	svc := NewService(source, time.Hour, nil)
	ctx := context.Background()

	first, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if first.Amount != "64000.00" {
		t.Errorf("Amount = %q", first.Amount)
	}

	for i := 0; i < 5; i++ {
		if _, err := svc.Current(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if source.callCount() != 1 {
		t.Errorf("source called %d times within TTL, want 1", source.callCount())
	}
}

func TestServiceServesStaleThenRefreshes(t *testing.T) {
	source := &stubSource{quote: Quote{Amount: "64000.00"}}
	svc := NewService(source, time.Millisecond, nil)
	ctx := context.Background()

	if _, err := svc.Current(ctx); err != nil {
		t.Fatal(err)
	}

	source.setAmount("65000.00")
	time.Sleep(5 * time.Millisecond)

	// The expired quote is served immediately; the caller never waits on
	// the upstream fetch.
	stale, err := svc.Current(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stale.Amount != "64000.00" {
		t.Errorf("expired read Amount = %q, want the cached 64000.00", stale.Amount)
	}

	// The background refresh lands shortly after.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		quote, err := svc.Current(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if quote.Amount == "65000.00" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("refreshed quote was never served")
}

func TestServiceServesStaleOnUpstreamFailure(t *testing.T) {
	source := &stubSource{quote: Quote{Amount: "64000.00"}}
	svc := NewService(source, time.Millisecond, nil)
	ctx := context.Background()

	if _, err := svc.Current(ctx); err != nil {
		t.Fatal(err)
	}

	source.setError(fmt.Errorf("upstream down"))
	time.Sleep(5 * time.Millisecond)

	quote, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("expected stale quote, got error: %v", err)
	}
	if quote.Amount != "64000.00" {
		t.Errorf("stale Amount = %q, want 64000.00", quote.Amount)
	}
}

func TestServiceErrorsWithNothingCached(t *testing.T) {
	source := &stubSource{err: fmt.Errorf("upstream down")}
	svc := NewService(source, time.Minute, nil)

	if _, err := svc.Current(context.Background()); err == nil {
		t.Error("expected error with an empty cache and failing upstream")
	}
}

func TestServiceSingleRefreshUnderConcurrency(t *testing.T) {
	source := &stubSource{quote: Quote{Amount: "64000.00"}}
	svc := NewService(source, time.Hour, nil)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Current(context.Background()); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d concurrent reads failed", failures.Load())
	}
	if source.callCount() != 1 {
		t.Errorf("source called %d times under concurrency, want 1", source.callCount())
	}
}

func TestHTTPSourceParsesSpotResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"base":"BTC","currency":"USD","amount":"64123.45"}}`)
	}))
	defer server.Close()

	source := NewHTTPSource(config.PriceFeedConfig{URL: server.URL})
	quote, err := source.Quote(context.Background())
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.Base != "BTC" || quote.Currency != "USD" || quote.Amount != "64123.45" {
		t.Errorf("quote = %+v", quote)
	}
	if quote.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
}

func TestHTTPSourceRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"empty amount", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data":{"base":"BTC","currency":"USD","amount":""}}`)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `not json`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			source := NewHTTPSource(config.PriceFeedConfig{URL: server.URL})
			if _, err := source.Quote(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}
