package errors

// ErrorCode represents a machine-readable error identifier returned to API
// callers. Codes are stable: merchants branch on them, so renaming one is a
// breaking change.
type ErrorCode string

// Authentication errors. All three credential failures map to the same
// generic message on the wire; the distinct codes below are used only for
// internal logging so an attacker cannot probe which keys exist.
const (
	ErrCodeAuthenticationError ErrorCode = "authentication_error"
)

// Validation errors (request input validation).
const (
	ErrCodeMissingField    ErrorCode = "missing_field"
	ErrCodeInvalidField    ErrorCode = "invalid_field"
	ErrCodeInvalidAmount   ErrorCode = "invalid_amount"
	ErrCodeInvalidCurrency ErrorCode = "invalid_currency"
	ErrCodeInvalidMetadata ErrorCode = "invalid_metadata"
	ErrCodeInvalidURL      ErrorCode = "invalid_url"
	ErrCodeInvalidStatus   ErrorCode = "invalid_status"
)

// Resource and state errors.
const (
	ErrCodeIntentNotFound   ErrorCode = "payment_intent_not_found"
	ErrCodeMerchantNotFound ErrorCode = "merchant_not_found"
	ErrCodeWebhookNotFound  ErrorCode = "webhook_not_found"
	ErrCodeEventNotFound    ErrorCode = "event_not_found"

	// ErrCodeInvalidTransition marks an attempt to move a payment intent
	// outside the status state machine. Surfaced as 409, never 500.
	ErrCodeInvalidTransition ErrorCode = "invalid_transition"
)

// Upstream and delivery errors.
const (
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeDeliveryFailure     ErrorCode = "delivery_failure"
	ErrCodeRateLimited         ErrorCode = "rate_limited"
)

// Internal errors.
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeStorageError  ErrorCode = "storage_error"
)

// IsRetryable reports whether a caller may usefully retry the request that
// produced this code. Validation and state-machine failures are permanent.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeUpstreamUnavailable, ErrCodeStorageError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code this error maps to.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeAuthenticationError:
		return 401

	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeInvalidCurrency,
		ErrCodeInvalidMetadata,
		ErrCodeInvalidURL,
		ErrCodeInvalidStatus:
		return 400

	case ErrCodeIntentNotFound,
		ErrCodeMerchantNotFound,
		ErrCodeWebhookNotFound,
		ErrCodeEventNotFound:
		return 404

	case ErrCodeInvalidTransition:
		return 409

	case ErrCodeRateLimited:
		return 429

	case ErrCodeUpstreamUnavailable:
		return 502

	default:
		return 500
	}
}
