package merchant

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/sbtcgateway/server/internal/errors"
	"github.com/sbtcgateway/server/internal/logger"
	"github.com/sbtcgateway/server/internal/storage"
)

type contextKey struct{}

// FromContext returns the merchant the middleware authenticated, if any.
func FromContext(ctx context.Context) (storage.Merchant, bool) {
	merchant, ok := ctx.Value(contextKey{}).(storage.Merchant)
	return merchant, ok
}

// WithMerchant stores an authenticated merchant on the context. Exposed
// for handler tests.
func WithMerchant(ctx context.Context, m storage.Merchant) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// RequireAuth rejects requests without a valid bearer API key. The response
// body is identical for every failure mode; the reason only goes to logs
// and metrics.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		merchant, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			log := logger.FromContext(r.Context())
			var authErr *AuthError
			if stderrors.As(err, &authErr) {
				log.Warn().
					Str("reason", authErr.Reason).
					Msg("auth.rejected")
				errors.WriteSimpleError(w, errors.ErrCodeAuthenticationError, "invalid or missing API key")
				return
			}
			log.Error().Err(err).Msg("auth.store_error")
			errors.WriteSimpleError(w, errors.ErrCodeStorageError, "temporary storage failure")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithMerchant(r.Context(), merchant)))
	})
}
