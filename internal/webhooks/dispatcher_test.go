package webhooks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/storage"
)

func testIntent(status storage.IntentStatus) storage.PaymentIntent {
	now := time.Now().UTC()
	return storage.PaymentIntent{
		ID:          "pi_abc",
		ContractID:  "contract_abc",
		MerchantID:  "mer_1",
		AmountSats:  75000,
		Status:      status,
		Metadata:    map[string]string{"orderId": "ord_9"},
		TxHash:      "0xbeef",
		BlockHeight: 1200,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func registerEndpoint(t *testing.T, store *storage.MemoryStore, ep storage.WebhookEndpoint) {
	t.Helper()
	if err := store.CreateWebhookEndpoint(context.Background(), ep); err != nil {
		t.Fatal(err)
	}
}

func TestDispatcherFanout(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	registerEndpoint(t, store, storage.WebhookEndpoint{
		ID: "wh_all", MerchantID: "mer_1", URL: "https://a.example.com/hook",
		Secret: "whsec_a", Active: true,
	})
	registerEndpoint(t, store, storage.WebhookEndpoint{
		ID: "wh_succeeded_only", MerchantID: "mer_1", URL: "https://b.example.com/hook",
		Secret: "whsec_b", Active: true, EventTypes: []string{EventIntentSucceeded},
	})
	registerEndpoint(t, store, storage.WebhookEndpoint{
		ID: "wh_inactive", MerchantID: "mer_1", URL: "https://c.example.com/hook",
		Secret: "whsec_c", Active: false,
	})
	registerEndpoint(t, store, storage.WebhookEndpoint{
		ID: "wh_other_merchant", MerchantID: "mer_2", URL: "https://d.example.com/hook",
		Secret: "whsec_d", Active: true,
	})

	dispatcher := NewDispatcher(store, config.RetryConfig{Enabled: true, MaxAttempts: 5})
	dispatcher.IntentTransitioned(ctx, testIntent(storage.StatusSucceeded))

	events, err := store.ListEvents(ctx, "mer_1", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("enqueued = %d events, want 2 (active subscribed endpoints only)", len(events))
	}

	for _, event := range events {
		if event.Type != EventIntentSucceeded {
			t.Errorf("event type = %q, want %s", event.Type, EventIntentSucceeded)
		}
		if event.MaxAttempts != 5 {
			t.Errorf("MaxAttempts = %d, want 5", event.MaxAttempts)
		}
		if event.Headers[HeaderEventID] != event.ID {
			t.Errorf("event id header = %q, want %q", event.Headers[HeaderEventID], event.ID)
		}
		if event.Headers[HeaderEventType] != EventIntentSucceeded {
			t.Errorf("event type header = %q", event.Headers[HeaderEventType])
		}

		var envelope Envelope
		if err := json.Unmarshal(event.Payload, &envelope); err != nil {
			t.Fatalf("payload not an envelope: %v", err)
		}
		if envelope.ID != event.ID {
			t.Errorf("envelope id = %q, want %q", envelope.ID, event.ID)
		}
		if envelope.Data.ID != "pi_abc" || envelope.Data.AmountSats != 75000 {
			t.Errorf("snapshot = %+v", envelope.Data)
		}
		if envelope.Data.TxHash != "0xbeef" {
			t.Errorf("snapshot txHash = %q", envelope.Data.TxHash)
		}

		endpoint, err := store.GetWebhookEndpoint(ctx, event.EndpointID)
		if err != nil {
			t.Fatal(err)
		}
		if err := VerifySignature(endpoint.Secret, event.Payload, event.Headers[HeaderSignature], 0, time.Now()); err != nil {
			t.Errorf("endpoint %s: signature does not verify: %v", endpoint.ID, err)
		}
	}

	// Distinct event ids per endpoint.
	if events[0].ID == events[1].ID {
		t.Error("events share an id")
	}
}

func TestDispatcherIgnoresNonTerminalStates(t *testing.T) {
	store := storage.NewMemoryStore()
	registerEndpoint(t, store, storage.WebhookEndpoint{
		ID: "wh_1", MerchantID: "mer_1", URL: "https://a.example.com/hook",
		Secret: "whsec_a", Active: true,
	})

	dispatcher := NewDispatcher(store, config.RetryConfig{Enabled: true, MaxAttempts: 3})
	for _, status := range []storage.IntentStatus{storage.StatusRequiresPayment, storage.StatusProcessing, storage.StatusCanceled} {
		dispatcher.IntentTransitioned(context.Background(), testIntent(status))
	}

	events, err := store.ListEvents(context.Background(), "mer_1", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("enqueued = %d events for non-settlement states, want 0", len(events))
	}
}

func TestDispatcherRetryDisabled(t *testing.T) {
	store := storage.NewMemoryStore()
	registerEndpoint(t, store, storage.WebhookEndpoint{
		ID: "wh_1", MerchantID: "mer_1", URL: "https://a.example.com/hook",
		Secret: "whsec_a", Active: true,
	})

	dispatcher := NewDispatcher(store, config.RetryConfig{Enabled: false, MaxAttempts: 5})
	dispatcher.IntentTransitioned(context.Background(), testIntent(storage.StatusFailed))

	events, _ := store.ListEvents(context.Background(), "mer_1", "", 10)
	if len(events) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(events))
	}
	if events[0].MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d with retry disabled, want 1", events[0].MaxAttempts)
	}
}
