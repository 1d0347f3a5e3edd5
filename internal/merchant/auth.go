package merchant

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/metrics"
	"github.com/sbtcgateway/server/internal/storage"
	"github.com/sbtcgateway/server/internal/token"
)

// Failure reasons recorded in logs and metrics. Clients always receive the
// same generic authentication_error regardless of which one fired.
const (
	ReasonMissingHeader = "missing_header"
	ReasonMalformed     = "malformed_header"
	ReasonInvalidKey    = "invalid_key"
)

// AuthError carries the internal failure reason for an authentication
// attempt. It never reaches the response body.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

const bearerPrefix = "Bearer "

// Authenticator resolves bearer API keys to merchants.
type Authenticator struct {
	store   storage.Store
	metrics *metrics.Metrics

	allowTestCredential bool
	testKeyHash         string
	testMerchantID      string
}

// NewAuthenticator builds an authenticator. The test credential is only
// honored when the config enables it, which config validation already
// refuses in production.
func NewAuthenticator(store storage.Store, m *metrics.Metrics, cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{
		store:               store,
		metrics:             m,
		allowTestCredential: cfg.AllowTestCredential,
		testMerchantID:      cfg.TestMerchantID,
	}
	if cfg.AllowTestCredential && cfg.TestCredentialKey != "" {
		a.testKeyHash = token.Hash(cfg.TestCredentialKey)
	}
	return a
}

// Authenticate parses the Authorization header and resolves the merchant.
// The scheme comparison is exact: "bearer" and "BEARER" are rejected.
func (a *Authenticator) Authenticate(ctx context.Context, authorization string) (storage.Merchant, error) {
	if authorization == "" {
		return storage.Merchant{}, a.fail(ReasonMissingHeader)
	}
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return storage.Merchant{}, a.fail(ReasonMalformed)
	}
	key := authorization[len(bearerPrefix):]
	if key == "" {
		return storage.Merchant{}, a.fail(ReasonMalformed)
	}

	keyHash := token.Hash(key)

	if a.allowTestCredential && a.testKeyHash != "" && keyHash == a.testKeyHash {
		merchant, err := a.store.GetMerchant(ctx, a.testMerchantID)
		if err != nil {
			return storage.Merchant{}, a.fail(ReasonInvalidKey)
		}
		return merchant, nil
	}

	merchant, err := a.store.GetMerchantByKeyHash(ctx, keyHash)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return storage.Merchant{}, a.fail(ReasonInvalidKey)
		}
		return storage.Merchant{}, err
	}
	return merchant, nil
}

func (a *Authenticator) fail(reason string) error {
	a.metrics.ObserveAuthFailure(reason)
	return &AuthError{Reason: reason}
}
