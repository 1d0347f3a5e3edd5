package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/logger"
	"github.com/sbtcgateway/server/internal/storage"
	"github.com/sbtcgateway/server/internal/token"
)

// Dispatcher fans committed settlements out to the merchant's registered
// endpoints. Each endpoint gets its own queue entry with its own event id
// and a signature computed once, here, over the frozen payload.
type Dispatcher struct {
	store       storage.Store
	maxAttempts int
}

// NewDispatcher builds a dispatcher using the configured retry budget.
func NewDispatcher(store storage.Store, retry config.RetryConfig) *Dispatcher {
	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if !retry.Enabled {
		maxAttempts = 1
	}
	return &Dispatcher{store: store, maxAttempts: maxAttempts}
}

// IntentTransitioned enqueues one event per subscribed active endpoint.
// Called only by the transition winner, so each settlement produces at most
// one event per endpoint. Enqueue failures are logged and skipped; the
// payment state change has already committed and must not be rolled back
// over a notification.
func (d *Dispatcher) IntentTransitioned(ctx context.Context, intent storage.PaymentIntent) {
	log := logger.FromContext(ctx)

	eventType, ok := EventTypeFor(intent.Status)
	if !ok {
		return
	}

	endpoints, err := d.store.ListWebhookEndpoints(ctx, intent.MerchantID)
	if err != nil {
		log.Error().Err(err).
			Str("intent_id", intent.ID).
			Msg("webhook fanout: list endpoints failed")
		return
	}

	snapshot := SnapshotIntent(intent)
	now := time.Now().UTC()

	for _, endpoint := range endpoints {
		if !endpoint.Active || !endpoint.SubscribedTo(eventType) {
			continue
		}

		eventID := token.NewEventID()
		payload, err := json.Marshal(Envelope{
			ID:      eventID,
			Type:    eventType,
			Created: now.Unix(),
			Data:    snapshot,
		})
		if err != nil {
			log.Error().Err(err).Str("intent_id", intent.ID).Msg("webhook fanout: marshal failed")
			continue
		}

		event := storage.WebhookEvent{
			ID:         eventID,
			Type:       eventType,
			EndpointID: endpoint.ID,
			MerchantID: intent.MerchantID,
			IntentID:   intent.ID,
			URL:        endpoint.URL,
			Payload:    payload,
			Headers: map[string]string{
				"Content-Type":  "application/json",
				HeaderSignature: Sign(endpoint.Secret, payload, now),
				HeaderEventType: eventType,
				HeaderEventID:   eventID,
			},
			MaxAttempts:   d.maxAttempts,
			NextAttemptAt: now,
			CreatedAt:     now,
		}

		if _, err := d.store.EnqueueEvent(ctx, event); err != nil {
			log.Error().Err(err).
				Str("event_id", eventID).
				Str("endpoint_id", endpoint.ID).
				Msg("webhook fanout: enqueue failed")
			continue
		}

		log.Debug().
			Str("event_id", eventID).
			Str("endpoint_id", endpoint.ID).
			Str("event_type", eventType).
			Msg("webhook event enqueued")
	}
}
