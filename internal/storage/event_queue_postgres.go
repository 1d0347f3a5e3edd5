package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EnqueueEvent adds a webhook event to the delivery queue.
func (s *PostgresStore) EnqueueEvent(ctx context.Context, event WebhookEvent) (string, error) {
	defer s.instrument("enqueue_event")()

	if event.ID == "" {
		return "", fmt.Errorf("enqueue event: missing id")
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

	headers, err := json.Marshal(event.Headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events
			(id, type, endpoint_id, merchant_id, intent_id, url, payload, headers, status, attempts, max_attempts, last_error, last_attempt_at, next_attempt_at, delivered_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		event.ID,
		event.Type,
		event.EndpointID,
		event.MerchantID,
		nullString(event.IntentID),
		event.URL,
		[]byte(event.Payload),
		headers,
		event.Status,
		event.Attempts,
		event.MaxAttempts,
		nullString(event.LastError),
		nullTime(event.LastAttemptAt),
		event.NextAttemptAt,
		event.DeliveredAt,
		event.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return event.ID, nil
}

// DequeueDueEvents returns pending events ready for delivery, oldest first.
func (s *PostgresStore) DequeueDueEvents(ctx context.Context, limit int) ([]WebhookEvent, error) {
	defer s.instrument("dequeue_due_events")()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, endpoint_id, merchant_id, intent_id, url, payload, headers, status, attempts, max_attempts, last_error, last_attempt_at, next_attempt_at, delivered_at, created_at
		FROM events
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC
		LIMIT $3
	`, EventStatusPending, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due events: %w", err)
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkEventProcessing claims an event and increments its attempt counter.
// The status guard makes the claim exclusive: a second worker polling the
// same row loses the UPDATE and backs off.
func (s *PostgresStore) MarkEventProcessing(ctx context.Context, eventID string) error {
	defer s.instrument("mark_event_processing")()

	result, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET status = $1, attempts = attempts + 1, last_attempt_at = $2
		WHERE id = $3 AND status = $4
	`, EventStatusProcessing, time.Now().UTC(), eventID, EventStatusPending)
	if err != nil {
		return fmt.Errorf("claim event: %w", err)
	}
	return s.claimResult(ctx, result, eventID)
}

// MarkEventDelivered records a successful delivery.
func (s *PostgresStore) MarkEventDelivered(ctx context.Context, eventID string) error {
	defer s.instrument("mark_event_delivered")()

	result, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET status = $1, delivered_at = $2, last_error = NULL
		WHERE id = $3
	`, EventStatusDelivered, time.Now().UTC(), eventID)
	if err != nil {
		return fmt.Errorf("mark event delivered: %w", err)
	}
	return requireFound(result)
}

// MarkEventFailed records a failed attempt, rescheduling or parking the event.
func (s *PostgresStore) MarkEventFailed(ctx context.Context, eventID string, errorMsg string, nextAttemptAt time.Time) error {
	defer s.instrument("mark_event_failed")()

	result, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET status = CASE WHEN attempts >= max_attempts THEN $1 ELSE $2 END,
			last_error = $3,
			next_attempt_at = $4
		WHERE id = $5
	`, EventStatusFailed, EventStatusPending, errorMsg, nextAttemptAt.UTC(), eventID)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return requireFound(result)
}

// GetEvent returns a webhook event by id.
func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (WebhookEvent, error) {
	defer s.instrument("get_event")()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, endpoint_id, merchant_id, intent_id, url, payload, headers, status, attempts, max_attempts, last_error, last_attempt_at, next_attempt_at, delivered_at, created_at
		FROM events WHERE id = $1
	`, eventID)
	return scanEvent(row)
}

// ListEvents returns a merchant's events, newest first.
func (s *PostgresStore) ListEvents(ctx context.Context, merchantID string, status EventStatus, limit int) ([]WebhookEvent, error) {
	defer s.instrument("list_events")()

	query := `
		SELECT id, type, endpoint_id, merchant_id, intent_id, url, payload, headers, status, attempts, max_attempts, last_error, last_attempt_at, next_attempt_at, delivered_at, created_at
		FROM events WHERE merchant_id = $1`
	args := []any{merchantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(row rowScanner) (WebhookEvent, error) {
	var (
		event         WebhookEvent
		intentID      sql.NullString
		payload       []byte
		headers       []byte
		lastError     sql.NullString
		lastAttemptAt sql.NullTime
		deliveredAt   sql.NullTime
	)
	err := row.Scan(
		&event.ID,
		&event.Type,
		&event.EndpointID,
		&event.MerchantID,
		&intentID,
		&event.URL,
		&payload,
		&headers,
		&event.Status,
		&event.Attempts,
		&event.MaxAttempts,
		&lastError,
		&lastAttemptAt,
		&event.NextAttemptAt,
		&deliveredAt,
		&event.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return WebhookEvent{}, ErrNotFound
	}
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("scan event: %w", err)
	}

	event.IntentID = intentID.String
	event.Payload = json.RawMessage(payload)
	event.LastError = lastError.String
	event.LastAttemptAt = lastAttemptAt.Time
	if deliveredAt.Valid {
		t := deliveredAt.Time
		event.DeliveredAt = &t
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &event.Headers); err != nil {
			return WebhookEvent{}, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	return event, nil
}

// requireFound maps zero affected rows to ErrNotFound.
func requireFound(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// claimResult maps zero affected rows on a guarded claim to ErrNotFound for
// a missing event or ErrConflict for one already claimed.
func (s *PostgresStore) claimResult(ctx context.Context, result sql.Result, eventID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return err
	}
	return ErrConflict
}
