package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sbtcgateway/server/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a conditional update loses to a concurrent
// writer: the stored status no longer matches the expected prior value.
var ErrConflict = errors.New("storage: conditional update conflict")

// ErrDuplicate is returned when inserting an entity whose id already exists.
var ErrDuplicate = errors.New("storage: duplicate id")

// IntentStatus is the lifecycle state of a payment intent.
type IntentStatus string

const (
	StatusRequiresPayment IntentStatus = "requires_payment"
	StatusProcessing      IntentStatus = "processing"
	StatusSucceeded       IntentStatus = "succeeded"
	StatusFailed          IntentStatus = "failed"
	StatusCanceled        IntentStatus = "canceled"
)

// Merchant is an API caller identity. Created out of band (seed or admin
// tooling); only webhook configuration changes after creation.
type Merchant struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	APIKeyHash string    `json:"-"` // SHA-256 of the secret key, hex encoded
	CreatedAt  time.Time `json:"createdAt"`
}

// PaymentIntent is the central entity: an expected payment of a fixed
// satoshi amount tracked through the status lifecycle. AmountSats and
// MerchantID are write-once; only Status, TxHash, BlockHeight and UpdatedAt
// change after creation, and only through TransitionIntent.
type PaymentIntent struct {
	ID               string            `json:"id"`
	ContractID       string            `json:"contractId"` // 32 random bytes, hex; on-chain correlation
	MerchantID       string            `json:"merchantId"`
	AmountSats       int64             `json:"amountSats"`
	Description      string            `json:"description,omitempty"`
	Status           IntentStatus      `json:"status"`
	ClientSecretHash string            `json:"-"` // SHA-256 of the checkout secret, hex encoded
	Metadata         map[string]string `json:"metadata,omitempty"`
	TxHash           string            `json:"txHash,omitempty"`
	BlockHeight      int64             `json:"blockHeight,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// WebhookEndpoint is a merchant-registered delivery target. The signing
// secret is generated server-side, never derived from the URL.
type WebhookEndpoint struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchantId"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	EventTypes []string  `json:"eventTypes"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SubscribedTo reports whether the endpoint wants the given event type.
// An empty subscription list means all events.
func (e WebhookEndpoint) SubscribedTo(eventType string) bool {
	if len(e.EventTypes) == 0 {
		return true
	}
	for _, t := range e.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Store captures the persistence requirements for the gateway: merchants,
// payment intents, webhook endpoints and the webhook delivery queue.
//
// TransitionIntent is the single mutation path for intent status. It is a
// conditional update: the transition commits only when the stored status
// still equals expected, so two racing updates on the same intent can never
// both succeed. Backends implement this with a compare-and-swap under lock
// (memory) or a conditional UPDATE (postgres).
type Store interface {
	// Merchants
	CreateMerchant(ctx context.Context, m Merchant) error
	GetMerchant(ctx context.Context, id string) (Merchant, error)
	// GetMerchantByKeyHash resolves a merchant from the hash of a presented
	// API key. Plaintext keys are never stored or looked up.
	GetMerchantByKeyHash(ctx context.Context, keyHash string) (Merchant, error)

	// Payment intents
	CreateIntent(ctx context.Context, intent PaymentIntent) error
	GetIntent(ctx context.Context, id string) (PaymentIntent, error)
	// TransitionIntent moves an intent from expected to next, recording the
	// chain reference when provided. Returns the updated record,
	// ErrNotFound for an unknown id, or ErrConflict when the stored status
	// is not expected. UpdatedAt is refreshed only on commit.
	TransitionIntent(ctx context.Context, id string, expected, next IntentStatus, txHash string, blockHeight int64) (PaymentIntent, error)

	// Webhook endpoints
	CreateWebhookEndpoint(ctx context.Context, ep WebhookEndpoint) error
	GetWebhookEndpoint(ctx context.Context, id string) (WebhookEndpoint, error)
	ListWebhookEndpoints(ctx context.Context, merchantID string) ([]WebhookEndpoint, error)

	// Webhook event queue. Events are created when a state transition
	// warrants notification, mutated only by the delivery worker, and never
	// deleted here: exhausted events stay recorded with their final error.
	EnqueueEvent(ctx context.Context, event WebhookEvent) (string, error)
	// DequeueDueEvents returns pending events whose next attempt time has
	// passed, ordered oldest first, up to limit.
	DequeueDueEvents(ctx context.Context, limit int) ([]WebhookEvent, error)
	// MarkEventProcessing claims an event for delivery and increments its
	// attempt counter.
	MarkEventProcessing(ctx context.Context, eventID string) error
	// MarkEventDelivered records a 2xx response.
	MarkEventDelivered(ctx context.Context, eventID string) error
	// MarkEventFailed records a failed attempt. The event is rescheduled for
	// nextAttemptAt, or parked as undelivered once attempts reach the cap.
	MarkEventFailed(ctx context.Context, eventID string, errorMsg string, nextAttemptAt time.Time) error
	GetEvent(ctx context.Context, eventID string) (WebhookEvent, error)
	// ListEvents returns delivery bookkeeping for a merchant, newest first.
	// An empty status lists all.
	ListEvents(ctx context.Context, merchantID string, status EventStatus, limit int) ([]WebhookEvent, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// New constructs the configured storage backend.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// rawMetadata marshals intent metadata for relational storage.
func rawMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return raw, nil
}
