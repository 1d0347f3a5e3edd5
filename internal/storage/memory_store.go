package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests. All methods
// are safe for concurrent use; TransitionIntent performs its compare-and-swap
// under the write lock, giving the same serialization guarantee as the
// conditional UPDATE in the postgres backend.
type MemoryStore struct {
	mu         sync.RWMutex
	merchants  map[string]Merchant
	byKeyHash  map[string]string // api key hash -> merchant id
	intents    map[string]PaymentIntent
	endpoints  map[string]WebhookEndpoint
	eventQueue map[string]WebhookEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		merchants:  make(map[string]Merchant),
		byKeyHash:  make(map[string]string),
		intents:    make(map[string]PaymentIntent),
		endpoints:  make(map[string]WebhookEndpoint),
		eventQueue: make(map[string]WebhookEvent),
	}
}

// CreateMerchant inserts a merchant record.
func (m *MemoryStore) CreateMerchant(ctx context.Context, merchant Merchant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.merchants[merchant.ID]; exists {
		return ErrDuplicate
	}
	if merchant.CreatedAt.IsZero() {
		merchant.CreatedAt = time.Now().UTC()
	}
	m.merchants[merchant.ID] = merchant
	if merchant.APIKeyHash != "" {
		m.byKeyHash[merchant.APIKeyHash] = merchant.ID
	}
	return nil
}

// GetMerchant returns a merchant by id.
func (m *MemoryStore) GetMerchant(ctx context.Context, id string) (Merchant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	merchant, ok := m.merchants[id]
	if !ok {
		return Merchant{}, ErrNotFound
	}
	return merchant, nil
}

// GetMerchantByKeyHash resolves a merchant from an API key hash.
func (m *MemoryStore) GetMerchantByKeyHash(ctx context.Context, keyHash string) (Merchant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKeyHash[keyHash]
	if !ok {
		return Merchant{}, ErrNotFound
	}
	return m.merchants[id], nil
}

// CreateIntent inserts a payment intent record.
func (m *MemoryStore) CreateIntent(ctx context.Context, intent PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.intents[intent.ID]; exists {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	if intent.UpdatedAt.IsZero() {
		intent.UpdatedAt = intent.CreatedAt
	}
	m.intents[intent.ID] = intent
	return nil
}

// GetIntent returns a payment intent by id.
func (m *MemoryStore) GetIntent(ctx context.Context, id string) (PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	intent, ok := m.intents[id]
	if !ok {
		return PaymentIntent{}, ErrNotFound
	}
	return intent, nil
}

// TransitionIntent commits next only if the stored status equals expected.
func (m *MemoryStore) TransitionIntent(ctx context.Context, id string, expected, next IntentStatus, txHash string, blockHeight int64) (PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return PaymentIntent{}, ErrNotFound
	}
	if intent.Status != expected {
		return PaymentIntent{}, ErrConflict
	}

	intent.Status = next
	if txHash != "" {
		intent.TxHash = txHash
	}
	if blockHeight > 0 {
		intent.BlockHeight = blockHeight
	}
	intent.UpdatedAt = time.Now().UTC()
	m.intents[id] = intent
	return intent, nil
}

// CreateWebhookEndpoint inserts a webhook endpoint record.
func (m *MemoryStore) CreateWebhookEndpoint(ctx context.Context, ep WebhookEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.endpoints[ep.ID]; exists {
		return ErrDuplicate
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	m.endpoints[ep.ID] = ep
	return nil
}

// GetWebhookEndpoint returns a webhook endpoint by id.
func (m *MemoryStore) GetWebhookEndpoint(ctx context.Context, id string) (WebhookEndpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ep, ok := m.endpoints[id]
	if !ok {
		return WebhookEndpoint{}, ErrNotFound
	}
	return ep, nil
}

// ListWebhookEndpoints returns a merchant's endpoints, oldest first.
func (m *MemoryStore) ListWebhookEndpoints(ctx context.Context, merchantID string) ([]WebhookEndpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []WebhookEndpoint
	for _, ep := range m.endpoints {
		if ep.MerchantID == merchantID {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Ping always succeeds for the memory backend.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the memory backend.
func (m *MemoryStore) Close() error {
	return nil
}
