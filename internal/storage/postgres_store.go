package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/metrics"
)

// PostgresStore is the relational Store backend. All queries are
// parameterized; table names are fixed at construction.
type PostgresStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// NewPostgresStore opens a connection pool and bootstraps the schema.
func NewPostgresStore(connectionString string, pool config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime.Duration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// WithMetrics attaches query timing collection to the store.
func (s *PostgresStore) WithMetrics(m *metrics.Metrics) *PostgresStore {
	s.metrics = m
	return s
}

// instrument times one operation and refreshes the pool gauge on completion.
func (s *PostgresStore) instrument(operation string) func() {
	done := metrics.MeasureDBQuery(s.metrics, operation, "postgres")
	return func() {
		done()
		s.metrics.SetDBConnections(s.db.Stats().OpenConnections)
	}
}

// NewPostgresStoreWithDB wraps an existing database handle (for tests).
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

// createTables bootstraps the schema. Amounts are integer satoshis, never
// floating point.
func (s *PostgresStore) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS merchants (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL,
			api_key_hash  TEXT NOT NULL UNIQUE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS payment_intents (
			id                 TEXT PRIMARY KEY,
			contract_id        TEXT NOT NULL UNIQUE,
			merchant_id        TEXT NOT NULL REFERENCES merchants(id),
			amount_sats        BIGINT NOT NULL CHECK (amount_sats > 0),
			description        TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL,
			client_secret_hash TEXT NOT NULL,
			metadata           JSONB NOT NULL DEFAULT '{}',
			tx_hash            TEXT,
			block_height       BIGINT,
			created_at         TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_intents_merchant ON payment_intents(merchant_id)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id          TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL REFERENCES merchants(id),
			url         TEXT NOT NULL,
			secret      TEXT NOT NULL,
			event_types JSONB NOT NULL DEFAULT '[]',
			active      BOOLEAN NOT NULL DEFAULT true,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhooks_merchant ON webhooks(merchant_id)`,
		`CREATE TABLE IF NOT EXISTS events (
			id              TEXT PRIMARY KEY,
			type            TEXT NOT NULL,
			endpoint_id     TEXT NOT NULL,
			merchant_id     TEXT NOT NULL,
			intent_id       TEXT,
			url             TEXT NOT NULL,
			payload         JSONB NOT NULL,
			headers         JSONB NOT NULL DEFAULT '{}',
			status          TEXT NOT NULL,
			attempts        INT NOT NULL DEFAULT 0,
			max_attempts    INT NOT NULL,
			last_error      TEXT,
			last_attempt_at TIMESTAMPTZ,
			next_attempt_at TIMESTAMPTZ NOT NULL,
			delivered_at    TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_due ON events(status, next_attempt_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_merchant ON events(merchant_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// CreateMerchant inserts a merchant record.
func (s *PostgresStore) CreateMerchant(ctx context.Context, m Merchant) error {
	defer s.instrument("create_merchant")()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchants (id, name, email, api_key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.Name, m.Email, m.APIKeyHash, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert merchant: %w", err)
	}
	return nil
}

// GetMerchant returns a merchant by id.
func (s *PostgresStore) GetMerchant(ctx context.Context, id string) (Merchant, error) {
	defer s.instrument("get_merchant")()

	return s.scanMerchant(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, api_key_hash, created_at
		FROM merchants WHERE id = $1
	`, id))
}

// GetMerchantByKeyHash resolves a merchant from an API key hash.
func (s *PostgresStore) GetMerchantByKeyHash(ctx context.Context, keyHash string) (Merchant, error) {
	defer s.instrument("get_merchant_by_key_hash")()

	return s.scanMerchant(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, api_key_hash, created_at
		FROM merchants WHERE api_key_hash = $1
	`, keyHash))
}

func (s *PostgresStore) scanMerchant(row *sql.Row) (Merchant, error) {
	var m Merchant
	err := row.Scan(&m.ID, &m.Name, &m.Email, &m.APIKeyHash, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Merchant{}, ErrNotFound
	}
	if err != nil {
		return Merchant{}, fmt.Errorf("scan merchant: %w", err)
	}
	return m, nil
}

// CreateIntent inserts a payment intent record.
func (s *PostgresStore) CreateIntent(ctx context.Context, intent PaymentIntent) error {
	defer s.instrument("create_intent")()

	metadata, err := rawMetadata(intent.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	if intent.UpdatedAt.IsZero() {
		intent.UpdatedAt = intent.CreatedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_intents
			(id, contract_id, merchant_id, amount_sats, description, status, client_secret_hash, metadata, tx_hash, block_height, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		intent.ID,
		intent.ContractID,
		intent.MerchantID,
		intent.AmountSats,
		intent.Description,
		intent.Status,
		intent.ClientSecretHash,
		metadata,
		nullString(intent.TxHash),
		nullInt64(intent.BlockHeight),
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

// GetIntent returns a payment intent by id.
func (s *PostgresStore) GetIntent(ctx context.Context, id string) (PaymentIntent, error) {
	defer s.instrument("get_intent")()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, contract_id, merchant_id, amount_sats, description, status, client_secret_hash, metadata, tx_hash, block_height, created_at, updated_at
		FROM payment_intents WHERE id = $1
	`, id)
	return scanIntent(row)
}

// TransitionIntent commits next only if the stored status equals expected.
// The conditional UPDATE is the per-intent serialization point: of two
// racing updates, exactly one matches the WHERE clause.
func (s *PostgresStore) TransitionIntent(ctx context.Context, id string, expected, next IntentStatus, txHash string, blockHeight int64) (PaymentIntent, error) {
	defer s.instrument("transition_intent")()

	row := s.db.QueryRowContext(ctx, `
		UPDATE payment_intents
		SET status = $1,
			tx_hash = COALESCE($2, tx_hash),
			block_height = COALESCE($3, block_height),
			updated_at = $4
		WHERE id = $5 AND status = $6
		RETURNING id, contract_id, merchant_id, amount_sats, description, status, client_secret_hash, metadata, tx_hash, block_height, created_at, updated_at
	`, next, nullString(txHash), nullInt64(blockHeight), time.Now().UTC(), id, expected)

	intent, err := scanIntent(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing intent from a lost race.
		if _, getErr := s.GetIntent(ctx, id); getErr != nil {
			return PaymentIntent{}, getErr
		}
		return PaymentIntent{}, ErrConflict
	}
	return intent, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (PaymentIntent, error) {
	var (
		intent      PaymentIntent
		metadata    []byte
		txHash      sql.NullString
		blockHeight sql.NullInt64
	)
	err := row.Scan(
		&intent.ID,
		&intent.ContractID,
		&intent.MerchantID,
		&intent.AmountSats,
		&intent.Description,
		&intent.Status,
		&intent.ClientSecretHash,
		&metadata,
		&txHash,
		&blockHeight,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentIntent{}, ErrNotFound
	}
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("scan payment intent: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &intent.Metadata); err != nil {
			return PaymentIntent{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	intent.TxHash = txHash.String
	intent.BlockHeight = blockHeight.Int64
	return intent, nil
}

// CreateWebhookEndpoint inserts a webhook endpoint record.
func (s *PostgresStore) CreateWebhookEndpoint(ctx context.Context, ep WebhookEndpoint) error {
	defer s.instrument("create_webhook_endpoint")()

	eventTypes, err := json.Marshal(ep.EventTypes)
	if err != nil {
		return fmt.Errorf("marshal event types: %w", err)
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, merchant_id, url, secret, event_types, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ep.ID, ep.MerchantID, ep.URL, ep.Secret, eventTypes, ep.Active, ep.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// GetWebhookEndpoint returns a webhook endpoint by id.
func (s *PostgresStore) GetWebhookEndpoint(ctx context.Context, id string) (WebhookEndpoint, error) {
	defer s.instrument("get_webhook_endpoint")()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, url, secret, event_types, active, created_at
		FROM webhooks WHERE id = $1
	`, id)

	ep, err := scanEndpoint(row)
	if err != nil {
		return WebhookEndpoint{}, err
	}
	return ep, nil
}

// ListWebhookEndpoints returns a merchant's endpoints, oldest first.
func (s *PostgresStore) ListWebhookEndpoints(ctx context.Context, merchantID string) ([]WebhookEndpoint, error) {
	defer s.instrument("list_webhook_endpoints")()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, merchant_id, url, secret, event_types, active, created_at
		FROM webhooks WHERE merchant_id = $1
		ORDER BY created_at ASC
	`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoints: %w", err)
	}
	defer rows.Close()

	var out []WebhookEndpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func scanEndpoint(row rowScanner) (WebhookEndpoint, error) {
	var (
		ep         WebhookEndpoint
		eventTypes []byte
	)
	err := row.Scan(&ep.ID, &ep.MerchantID, &ep.URL, &ep.Secret, &eventTypes, &ep.Active, &ep.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WebhookEndpoint{}, ErrNotFound
	}
	if err != nil {
		return WebhookEndpoint{}, fmt.Errorf("scan webhook endpoint: %w", err)
	}
	if len(eventTypes) > 0 {
		if err := json.Unmarshal(eventTypes, &ep.EventTypes); err != nil {
			return WebhookEndpoint{}, fmt.Errorf("unmarshal event types: %w", err)
		}
	}
	return ep, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullInt64 maps 0 to SQL NULL.
func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v > 0}
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
