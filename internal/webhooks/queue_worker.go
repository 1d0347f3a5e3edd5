package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/httputil"
	"github.com/sbtcgateway/server/internal/metrics"
	"github.com/sbtcgateway/server/internal/storage"
)

// QueueWorker drains the persistent event queue and delivers webhooks
// with bounded exponential backoff between attempts.
type QueueWorker struct {
	store        storage.Store
	retry        config.RetryConfig
	httpClient   *http.Client
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	timeout      time.Duration
	pollInterval time.Duration
	batchSize    int
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// QueueWorkerOptions configures the delivery worker.
type QueueWorkerOptions struct {
	Store     storage.Store
	Config    config.WebhooksConfig
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	BatchSize int // events fetched per poll (default: 10)
}

// NewQueueWorker creates a delivery worker. It does not start polling
// until Start is called.
func NewQueueWorker(opts QueueWorkerOptions) *QueueWorker {
	timeout := opts.Config.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pollInterval := opts.Config.PollInterval.Duration
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}

	return &QueueWorker{
		store:        opts.Store,
		retry:        opts.Config.Retry,
		httpClient:   httputil.NewClient(timeout),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		timeout:      timeout,
		pollInterval: pollInterval,
		batchSize:    opts.BatchSize,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start begins polling the queue.
func (w *QueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop halts polling and waits for the current batch to finish.
func (w *QueueWorker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

func (w *QueueWorker) run(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info().
		Dur("pollInterval", w.pollInterval).
		Int("maxAttempts", w.retry.MaxAttempts).
		Msg("webhook delivery worker started")

	for {
		select {
		case <-w.stopChan:
			w.logger.Info().Msg("webhook delivery worker stopping")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// processBatch fetches due events and attempts each once.
func (w *QueueWorker) processBatch(ctx context.Context) {
	events, err := w.store.DequeueDueEvents(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to dequeue webhook events")
		return
	}
	if len(events) == 0 {
		return
	}

	w.logger.Debug().Int("count", len(events)).Msg("processing due webhook events")

	for _, event := range events {
		w.deliver(ctx, event)
	}
}

// deliver claims one event, attempts delivery and records the outcome.
func (w *QueueWorker) deliver(ctx context.Context, event storage.WebhookEvent) {
	if err := w.store.MarkEventProcessing(ctx, event.ID); err != nil {
		// Another worker claimed it first.
		w.logger.Debug().Err(err).Str("eventID", event.ID).Msg("skipping claimed event")
		return
	}
	event.Attempts++

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.send(reqCtx, event)
	cancel()
	duration := time.Since(start)

	if err == nil {
		if markErr := w.store.MarkEventDelivered(ctx, event.ID); markErr != nil {
			w.logger.Error().Err(markErr).Str("eventID", event.ID).Msg("failed to mark event delivered")
		}
		w.metrics.ObserveWebhook(event.Type, "delivered", duration, event.Attempts, false)
		w.logger.Info().
			Str("eventID", event.ID).
			Str("eventType", event.Type).
			Int("attempts", event.Attempts).
			Dur("duration", duration).
			Msg("webhook delivered")
		return
	}

	w.handleFailure(ctx, event, err, duration)
}

func (w *QueueWorker) handleFailure(ctx context.Context, event storage.WebhookEvent, deliveryErr error, duration time.Duration) {
	nextAttemptAt := time.Now().Add(w.backoff(event.Attempts))

	if err := w.store.MarkEventFailed(ctx, event.ID, deliveryErr.Error(), nextAttemptAt); err != nil {
		w.logger.Error().Err(err).Str("eventID", event.ID).Msg("failed to record delivery failure")
		return
	}

	exhausted := event.Attempts >= event.MaxAttempts
	w.metrics.ObserveWebhook(event.Type, "failed", duration, event.Attempts, exhausted)

	if exhausted {
		w.logger.Warn().
			Str("eventID", event.ID).
			Str("eventType", event.Type).
			Int("attempts", event.Attempts).
			Err(deliveryErr).
			Msg("webhook permanently undelivered after final attempt")
		return
	}

	w.logger.Warn().
		Str("eventID", event.ID).
		Str("eventType", event.Type).
		Int("attempts", event.Attempts).
		Time("nextAttempt", nextAttemptAt).
		Err(deliveryErr).
		Msg("webhook delivery failed, retry scheduled")
}

// backoff returns the delay before the next attempt: the initial interval
// doubled (or scaled by the configured multiplier) per completed attempt,
// capped at the maximum interval.
func (w *QueueWorker) backoff(attempt int) time.Duration {
	interval := w.retry.InitialInterval.Duration
	if interval <= 0 {
		interval = time.Second
	}
	multiplier := w.retry.Multiplier
	if multiplier < 1 {
		multiplier = 2.0
	}
	maxInterval := w.retry.MaxInterval.Duration
	if maxInterval <= 0 {
		maxInterval = 5 * time.Minute
	}

	backoff := interval
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if backoff > maxInterval {
			return maxInterval
		}
	}
	if backoff > maxInterval {
		backoff = maxInterval
	}
	return backoff
}

// send posts the frozen payload with its precomputed headers. Any status
// outside 2xx counts as a failed attempt.
func (w *QueueWorker) send(ctx context.Context, event storage.WebhookEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, event.URL, bytes.NewReader(event.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	for key, value := range event.Headers {
		if key == "" {
			continue
		}
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, event.URL)
	}
	return nil
}
