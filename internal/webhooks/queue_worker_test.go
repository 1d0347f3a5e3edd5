package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/storage"
)

func durationOf(d time.Duration) config.Duration {
	return config.Duration{Duration: d}
}

func newTestWorker(store storage.Store, retry config.RetryConfig) *QueueWorker {
	return NewQueueWorker(QueueWorkerOptions{
		Store: store,
		Config: config.WebhooksConfig{
			Timeout:      durationOf(2 * time.Second),
			PollInterval: durationOf(10 * time.Millisecond),
			Retry:        retry,
		},
		Logger: zerolog.Nop(),
	})
}

func enqueueTestEvent(t *testing.T, store *storage.MemoryStore, url string, maxAttempts int) string {
	t.Helper()
	event := storage.WebhookEvent{
		ID:          "evt_worker_test",
		Type:        EventIntentSucceeded,
		EndpointID:  "wh_1",
		MerchantID:  "mer_1",
		IntentID:    "pi_1",
		URL:         url,
		Payload:     []byte(`{"id":"evt_worker_test"}`),
		Headers:     map[string]string{HeaderEventID: "evt_worker_test"},
		MaxAttempts: maxAttempts,
	}
	if _, err := store.EnqueueEvent(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	return event.ID
}

func TestWorkerDeliversOnFirstAttempt(t *testing.T) {
	var received atomic.Int32
	var gotEventID atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		gotEventID.Store(r.Header.Get(HeaderEventID))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	eventID := enqueueTestEvent(t, store, server.URL, 5)
	worker := newTestWorker(store, config.RetryConfig{Enabled: true, MaxAttempts: 5, InitialInterval: durationOf(time.Millisecond), MaxInterval: durationOf(time.Second), Multiplier: 2.0})

	worker.processBatch(context.Background())

	if received.Load() != 1 {
		t.Fatalf("endpoint hit %d times, want 1", received.Load())
	}
	if got, _ := gotEventID.Load().(string); got != eventID {
		t.Errorf("event id header = %q, want %q", got, eventID)
	}

	event, err := store.GetEvent(context.Background(), eventID)
	if err != nil {
		t.Fatal(err)
	}
	if event.Status != storage.EventStatusDelivered {
		t.Errorf("status = %q, want delivered", event.Status)
	}
	if event.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", event.Attempts)
	}
	if event.DeliveredAt == nil {
		t.Error("DeliveredAt not set")
	}

	// A delivered event is never re-attempted.
	worker.processBatch(context.Background())
	if received.Load() != 1 {
		t.Errorf("delivered event re-sent, endpoint hit %d times", received.Load())
	}
}

func TestWorkerRetriesUntilExhausted(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	eventID := enqueueTestEvent(t, store, server.URL, 3)
	worker := newTestWorker(store, config.RetryConfig{Enabled: true, MaxAttempts: 3, InitialInterval: durationOf(time.Millisecond), MaxInterval: durationOf(5 * time.Millisecond), Multiplier: 2.0})

	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		worker.processBatch(ctx)
		event, err := store.GetEvent(ctx, eventID)
		if err != nil {
			t.Fatal(err)
		}
		if event.Status == storage.EventStatusFailed {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	event, err := store.GetEvent(ctx, eventID)
	if err != nil {
		t.Fatal(err)
	}
	if event.Status != storage.EventStatusFailed {
		t.Fatalf("status = %q after exhaustion window, want failed", event.Status)
	}
	if event.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", event.Attempts)
	}
	if event.LastError == "" {
		t.Error("LastError empty for undelivered event")
	}
	if event.DeliveredAt != nil {
		t.Error("DeliveredAt set for undelivered event")
	}
	if received.Load() != 3 {
		t.Errorf("endpoint hit %d times, want 3", received.Load())
	}

	// Exhausted events stay parked.
	worker.processBatch(ctx)
	if received.Load() != 3 {
		t.Errorf("exhausted event re-sent, endpoint hit %d times", received.Load())
	}
}

func TestWorkerRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	eventID := enqueueTestEvent(t, store, server.URL, 5)
	worker := newTestWorker(store, config.RetryConfig{Enabled: true, MaxAttempts: 5, InitialInterval: durationOf(time.Millisecond), MaxInterval: durationOf(5 * time.Millisecond), Multiplier: 2.0})

	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		worker.processBatch(ctx)
		event, _ := store.GetEvent(ctx, eventID)
		if event.Status == storage.EventStatusDelivered {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	event, err := store.GetEvent(ctx, eventID)
	if err != nil {
		t.Fatal(err)
	}
	if event.Status != storage.EventStatusDelivered {
		t.Fatalf("status = %q, want delivered after retry", event.Status)
	}
	if event.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", event.Attempts)
	}
}

func TestWorkerBackoff(t *testing.T) {
	worker := newTestWorker(storage.NewMemoryStore(), config.RetryConfig{
		Enabled:         true,
		MaxAttempts:     10,
		InitialInterval: durationOf(time.Second),
		MaxInterval:     durationOf(30 * time.Second),
		Multiplier:      2.0,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{7, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := worker.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWorkerStartStop(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	enqueueTestEvent(t, store, server.URL, 5)
	worker := newTestWorker(store, config.RetryConfig{Enabled: true, MaxAttempts: 5, InitialInterval: durationOf(time.Millisecond), MaxInterval: durationOf(time.Second), Multiplier: 2.0})

	worker.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && received.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	worker.Stop()

	if received.Load() == 0 {
		t.Error("worker never delivered the queued event")
	}
}
