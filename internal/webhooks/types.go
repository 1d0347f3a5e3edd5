package webhooks

import (
	"time"

	"github.com/sbtcgateway/server/internal/storage"
)

// Event types emitted on payment-intent settlement.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.failed"
)

// Envelope is the JSON body delivered to merchant endpoints.
type Envelope struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Created int64          `json:"created"` // unix seconds
	Data    IntentSnapshot `json:"data"`
}

// IntentSnapshot is the public projection of a payment intent captured at
// the moment of the transition. Secret hashes never appear here.
type IntentSnapshot struct {
	ID          string            `json:"id"`
	Object      string            `json:"object"`
	ContractID  string            `json:"contractId"`
	AmountSats  int64             `json:"amountSats"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	TxHash      string            `json:"txHash,omitempty"`
	BlockHeight int64             `json:"blockHeight,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// SnapshotIntent freezes an intent into its webhook projection.
func SnapshotIntent(intent storage.PaymentIntent) IntentSnapshot {
	return IntentSnapshot{
		ID:          intent.ID,
		Object:      "payment_intent",
		ContractID:  intent.ContractID,
		AmountSats:  intent.AmountSats,
		Description: intent.Description,
		Status:      string(intent.Status),
		Metadata:    intent.Metadata,
		TxHash:      intent.TxHash,
		BlockHeight: intent.BlockHeight,
		CreatedAt:   intent.CreatedAt,
		UpdatedAt:   intent.UpdatedAt,
	}
}

// EventTypeFor maps a settled status to its event type. Only terminal
// settlement states produce events.
func EventTypeFor(status storage.IntentStatus) (string, bool) {
	switch status {
	case storage.StatusSucceeded:
		return EventIntentSucceeded, true
	case storage.StatusFailed:
		return EventIntentFailed, true
	default:
		return "", false
	}
}
