package intent

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/sbtcgateway/server/internal/errors"
	"github.com/sbtcgateway/server/internal/logger"
	"github.com/sbtcgateway/server/internal/metrics"
	"github.com/sbtcgateway/server/internal/sats"
	"github.com/sbtcgateway/server/internal/storage"
	"github.com/sbtcgateway/server/internal/token"
)

// Metadata limits mirror the caps enforced at creation time.
const (
	maxMetadataKeys     = 20
	maxMetadataKeyLen   = 40
	maxMetadataValueLen = 500
)

// Dispatcher fans a committed settlement out to the merchant's webhook
// endpoints. The service calls it only after the store accepted the
// transition, so every dispatch corresponds to exactly one state change.
type Dispatcher interface {
	IntentTransitioned(ctx context.Context, intent storage.PaymentIntent)
}

// Service owns the payment-intent lifecycle: creation, retrieval and
// status transitions.
type Service struct {
	store           storage.Store
	dispatcher      Dispatcher
	metrics         *metrics.Metrics
	checkoutBaseURL string
}

// NewService builds an intent service. dispatcher and metrics may be nil.
func NewService(store storage.Store, dispatcher Dispatcher, m *metrics.Metrics, checkoutBaseURL string) *Service {
	return &Service{
		store:           store,
		dispatcher:      dispatcher,
		metrics:         m,
		checkoutBaseURL: strings.TrimRight(checkoutBaseURL, "/"),
	}
}

// CreateRequest carries the client-supplied fields for a new intent.
type CreateRequest struct {
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

const maxDescriptionLen = 1000

// CreateResult is the creation response: the stored intent plus the
// plaintext client secret, which is returned exactly once.
type CreateResult struct {
	Intent       storage.PaymentIntent
	ClientSecret string
	CheckoutURL  string
}

// Create validates the request, normalizes the amount to satoshis and
// persists a new intent in requires_payment.
func (s *Service) Create(ctx context.Context, merchantID string, req CreateRequest) (CreateResult, error) {
	if strings.TrimSpace(req.Amount) == "" {
		return CreateResult{}, errors.NewWithDetails(errors.ErrCodeMissingField,
			"amount is required", map[string]any{"field": "amount"})
	}

	unit, err := sats.ParseUnit(req.Currency)
	if err != nil {
		return CreateResult{}, errors.NewWithDetails(errors.ErrCodeInvalidCurrency,
			err.Error(), map[string]any{"field": "currency"})
	}

	amountSats, err := sats.Normalize(req.Amount, unit)
	if err != nil {
		return CreateResult{}, errors.NewWithDetails(errors.ErrCodeInvalidAmount,
			err.Error(), map[string]any{"field": "amount"})
	}

	if err := validateMetadata(req.Metadata); err != nil {
		return CreateResult{}, err
	}
	if len(req.Description) > maxDescriptionLen {
		return CreateResult{}, errors.NewWithDetails(errors.ErrCodeInvalidField,
			fmt.Sprintf("description may be at most %d bytes", maxDescriptionLen),
			map[string]any{"field": "description"})
	}

	clientSecret := token.NewClientSecret()
	now := time.Now().UTC()
	intent := storage.PaymentIntent{
		ID:               token.NewIntentID(),
		ContractID:       token.NewContractID(),
		MerchantID:       merchantID,
		AmountSats:       amountSats,
		Description:      req.Description,
		Status:           storage.StatusRequiresPayment,
		ClientSecretHash: token.Hash(clientSecret),
		Metadata:         req.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreateIntent(ctx, intent); err != nil {
		return CreateResult{}, fmt.Errorf("create intent: %w", err)
	}

	s.metrics.ObserveIntentCreated(amountSats)
	log := logger.FromContext(ctx)
	log.Info().
		Str("intent_id", intent.ID).
		Str("merchant_id", merchantID).
		Int64("amount_sats", amountSats).
		Msg("payment_intent.created")

	return CreateResult{
		Intent:       intent,
		ClientSecret: clientSecret,
		CheckoutURL:  s.checkoutURL(intent.ID, clientSecret),
	}, nil
}

// Get loads an intent by id.
func (s *Service) Get(ctx context.Context, intentID string) (storage.PaymentIntent, error) {
	intent, err := s.store.GetIntent(ctx, intentID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return storage.PaymentIntent{}, errors.New(errors.ErrCodeIntentNotFound,
				"no payment intent with id "+intentID)
		}
		return storage.PaymentIntent{}, fmt.Errorf("get intent: %w", err)
	}
	return intent, nil
}

// VerifyClientSecret reports whether the supplied secret belongs to the
// intent. An empty secret never matches.
func (s *Service) VerifyClientSecret(intent storage.PaymentIntent, clientSecret string) bool {
	if clientSecret == "" {
		return false
	}
	return token.HashMatches(clientSecret, intent.ClientSecretHash)
}

// StatusUpdate carries a requested transition.
type StatusUpdate struct {
	Status      string `json:"status"`
	TxHash      string `json:"tx_hash"`
	BlockHeight int64  `json:"block_height"`
}

// ApplyStatusUpdate moves an intent to a new status. The store enforces
// the expected-status guard, so under concurrent updates exactly one
// caller commits and the rest receive invalid_transition.
func (s *Service) ApplyStatusUpdate(ctx context.Context, intentID string, update StatusUpdate) (storage.PaymentIntent, error) {
	next, err := ParseStatus(update.Status)
	if err != nil {
		return storage.PaymentIntent{}, errors.NewWithDetails(errors.ErrCodeInvalidStatus,
			err.Error(), map[string]any{"field": "status"})
	}

	current, err := s.Get(ctx, intentID)
	if err != nil {
		return storage.PaymentIntent{}, err
	}

	if !CanTransition(current.Status, next) {
		s.metrics.ObserveTransition(string(current.Status), string(next), false)
		return storage.PaymentIntent{}, errors.NewWithDetails(errors.ErrCodeInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s", current.Status, next),
			map[string]any{"currentStatus": string(current.Status), "requestedStatus": string(next)})
	}

	updated, err := s.store.TransitionIntent(ctx, intentID, current.Status, next, update.TxHash, update.BlockHeight)
	if err != nil {
		switch {
		case stderrors.Is(err, storage.ErrConflict):
			// Another update won the race between our read and the write.
			s.metrics.ObserveTransition(string(current.Status), string(next), false)
			return storage.PaymentIntent{}, errors.NewWithDetails(errors.ErrCodeInvalidTransition,
				fmt.Sprintf("cannot transition from %s to %s", current.Status, next),
				map[string]any{"requestedStatus": string(next)})
		case stderrors.Is(err, storage.ErrNotFound):
			return storage.PaymentIntent{}, errors.New(errors.ErrCodeIntentNotFound,
				"no payment intent with id "+intentID)
		default:
			return storage.PaymentIntent{}, fmt.Errorf("transition intent: %w", err)
		}
	}

	s.metrics.ObserveTransition(string(current.Status), string(next), true)
	s.logTransition(ctx, updated, current.Status)

	if s.dispatcher != nil && (next == storage.StatusSucceeded || next == storage.StatusFailed) {
		s.dispatcher.IntentTransitioned(ctx, updated)
	}
	return updated, nil
}

func (s *Service) logTransition(ctx context.Context, intent storage.PaymentIntent, from storage.IntentStatus) {
	log := logger.FromContext(ctx)
	event := log.Info().
		Str("intent_id", intent.ID).
		Str("from", string(from)).
		Str("to", string(intent.Status))
	if intent.TxHash != "" {
		event = event.Str("tx_hash", intent.TxHash).Int64("block_height", intent.BlockHeight)
	}
	event.Msg("payment_intent.transitioned")
}

func (s *Service) checkoutURL(intentID, clientSecret string) string {
	if s.checkoutBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/checkout/%s?client_secret=%s", s.checkoutBaseURL, intentID, clientSecret)
}

func validateMetadata(metadata map[string]string) error {
	if len(metadata) > maxMetadataKeys {
		return errors.NewWithDetails(errors.ErrCodeInvalidMetadata,
			fmt.Sprintf("metadata may hold at most %d keys", maxMetadataKeys),
			map[string]any{"keys": len(metadata)})
	}
	for key, value := range metadata {
		if key == "" || len(key) > maxMetadataKeyLen {
			return errors.NewWithDetails(errors.ErrCodeInvalidMetadata,
				fmt.Sprintf("metadata keys must be 1-%d bytes", maxMetadataKeyLen),
				map[string]any{"key": key})
		}
		if len(value) > maxMetadataValueLen {
			return errors.NewWithDetails(errors.ErrCodeInvalidMetadata,
				fmt.Sprintf("metadata values may be at most %d bytes", maxMetadataValueLen),
				map[string]any{"key": key})
		}
	}
	return nil
}
