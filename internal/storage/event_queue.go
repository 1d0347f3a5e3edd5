package storage

import (
	"encoding/json"
	"time"
)

// EventStatus is the delivery state of a queued webhook event.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"    // waiting for delivery or retry
	EventStatusProcessing EventStatus = "processing" // claimed by the delivery worker
	EventStatusDelivered  EventStatus = "delivered"  // a 2xx response was observed
	EventStatusFailed     EventStatus = "failed"     // exhausted all attempts, kept for audit
)

// WebhookEvent is one signed notification owed to one merchant endpoint.
// The payload is a snapshot taken at the moment of the triggering state
// transition: later intent mutations never alter it. Persisting the queue
// keeps the at-least-once contract across server restarts.
type WebhookEvent struct {
	ID            string            `json:"id"`   // evt_..., the receiver's idempotency key
	Type          string            `json:"type"` // e.g. "payment_intent.succeeded"
	EndpointID    string            `json:"endpointId"`
	MerchantID    string            `json:"merchantId"`
	IntentID      string            `json:"paymentIntentId,omitempty"`
	URL           string            `json:"url"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers"` // signature and event headers, fixed at enqueue
	Status        EventStatus       `json:"status"`
	Attempts      int               `json:"deliveryAttempts"`
	MaxAttempts   int               `json:"maxAttempts"`
	LastError     string            `json:"lastError,omitempty"`
	LastAttemptAt time.Time         `json:"lastAttemptAt"`
	NextAttemptAt time.Time         `json:"nextAttemptAt"`
	DeliveredAt   *time.Time        `json:"deliveredAt"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Due reports whether the event should be attempted now.
func (e WebhookEvent) Due(now time.Time) bool {
	if e.Status != EventStatusPending {
		return false
	}
	return e.NextAttemptAt.IsZero() || !e.NextAttemptAt.After(now)
}

// Exhausted reports whether the event permanently failed delivery.
func (e WebhookEvent) Exhausted() bool {
	return e.Status == EventStatusFailed
}
