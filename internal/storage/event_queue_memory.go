package storage

import (
	"context"
	"sort"
	"time"
)

// EnqueueEvent adds a webhook event to the delivery queue.
func (m *MemoryStore) EnqueueEvent(ctx context.Context, event WebhookEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		return "", ErrNotFound
	}
	if _, exists := m.eventQueue[event.ID]; exists {
		return "", ErrDuplicate
	}

	now := time.Now().UTC()
	if event.Status == "" {
		event.Status = EventStatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = now
	}
	if event.MaxAttempts == 0 {
		event.MaxAttempts = 5
	}

	m.eventQueue[event.ID] = event
	return event.ID, nil
}

// DequeueDueEvents returns pending events ready for delivery, oldest first.
func (m *MemoryStore) DequeueDueEvents(ctx context.Context, limit int) ([]WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	var due []WebhookEvent
	for _, event := range m.eventQueue {
		if event.Due(now) {
			due = append(due, event)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkEventProcessing claims an event and increments its attempt counter.
func (m *MemoryStore) MarkEventProcessing(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.eventQueue[eventID]
	if !ok {
		return ErrNotFound
	}
	if event.Status != EventStatusPending {
		return ErrConflict
	}

	event.Status = EventStatusProcessing
	event.Attempts++
	event.LastAttemptAt = time.Now().UTC()
	m.eventQueue[eventID] = event
	return nil
}

// MarkEventDelivered records a successful delivery.
func (m *MemoryStore) MarkEventDelivered(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.eventQueue[eventID]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	event.Status = EventStatusDelivered
	event.DeliveredAt = &now
	event.LastError = ""
	m.eventQueue[eventID] = event
	return nil
}

// MarkEventFailed records a failed attempt, rescheduling or parking the event.
func (m *MemoryStore) MarkEventFailed(ctx context.Context, eventID string, errorMsg string, nextAttemptAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.eventQueue[eventID]
	if !ok {
		return ErrNotFound
	}

	event.LastError = errorMsg
	if event.Attempts >= event.MaxAttempts {
		// Out of attempts: the event stays recorded as undelivered, never
		// silently dropped.
		event.Status = EventStatusFailed
	} else {
		event.Status = EventStatusPending
		event.NextAttemptAt = nextAttemptAt
	}
	m.eventQueue[eventID] = event
	return nil
}

// GetEvent returns a webhook event by id.
func (m *MemoryStore) GetEvent(ctx context.Context, eventID string) (WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	event, ok := m.eventQueue[eventID]
	if !ok {
		return WebhookEvent{}, ErrNotFound
	}
	return event, nil
}

// ListEvents returns a merchant's events, newest first.
func (m *MemoryStore) ListEvents(ctx context.Context, merchantID string, status EventStatus, limit int) ([]WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []WebhookEvent
	for _, event := range m.eventQueue {
		if event.MerchantID != merchantID {
			continue
		}
		if status != "" && event.Status != status {
			continue
		}
		out = append(out, event)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
