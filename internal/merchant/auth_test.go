package merchant

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sbtcgateway/server/internal/config"
	"github.com/sbtcgateway/server/internal/logger"
	"github.com/sbtcgateway/server/internal/storage"
	"github.com/sbtcgateway/server/internal/token"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, string) {
	t.Helper()
	store := storage.NewMemoryStore()
	key := token.NewSecretKey()
	err := store.CreateMerchant(context.Background(), storage.Merchant{
		ID:         "mer_1",
		Name:       "Test Shop",
		APIKeyHash: token.Hash(key),
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewAuthenticator(store, nil, config.AuthConfig{}), key
}

func reasonOf(t *testing.T, err error) string {
	t.Helper()
	var authErr *AuthError
	if !stderrors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	return authErr.Reason
}

func TestAuthenticate(t *testing.T) {
	auth, key := newTestAuthenticator(t)
	ctx := context.Background()

	merchant, err := auth.Authenticate(ctx, "Bearer "+key)
	if err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if merchant.ID != "mer_1" {
		t.Errorf("merchant = %q, want mer_1", merchant.ID)
	}

	tests := []struct {
		name   string
		header string
		reason string
	}{
		{"empty header", "", ReasonMissingHeader},
		{"no scheme", key, ReasonMalformed},
		{"lowercase scheme", "bearer " + key, ReasonMalformed},
		{"uppercase scheme", "BEARER " + key, ReasonMalformed},
		{"empty key", "Bearer ", ReasonMalformed},
		{"unknown key", "Bearer seck_unknown", ReasonInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Authenticate(ctx, tt.header)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if got := reasonOf(t, err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestAuthenticate_TestCredential(t *testing.T) {
	store := storage.NewMemoryStore()
	if err := store.CreateMerchant(context.Background(), storage.Merchant{ID: "mer_seed_test", Name: "Seed"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.AuthConfig{
		AllowTestCredential: true,
		TestCredentialKey:   "seck_test_abc",
		TestMerchantID:      "mer_seed_test",
	}
	auth := NewAuthenticator(store, nil, cfg)

	merchant, err := auth.Authenticate(context.Background(), "Bearer seck_test_abc")
	if err != nil {
		t.Fatalf("test credential rejected: %v", err)
	}
	if merchant.ID != "mer_seed_test" {
		t.Errorf("merchant = %q, want mer_seed_test", merchant.ID)
	}

	// Same key with the gate closed resolves nothing.
	closed := NewAuthenticator(store, nil, config.AuthConfig{TestCredentialKey: "seck_test_abc", TestMerchantID: "mer_seed_test"})
	if _, err := closed.Authenticate(context.Background(), "Bearer seck_test_abc"); err == nil {
		t.Error("test credential accepted while disabled")
	}
}

func TestRequireAuthMiddleware(t *testing.T) {
	auth, key := newTestAuthenticator(t)

	var sawMerchant string
	handler := auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		merchant, ok := FromContext(r.Context())
		if ok {
			sawMerchant = merchant.ID
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/payment_intents", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if sawMerchant != "mer_1" {
		t.Errorf("merchant in context = %q, want mer_1", sawMerchant)
	}

	// Every failure mode produces the same generic body.
	var bodies []string
	for _, header := range []string{"", "Token abc", "Bearer seck_wrong"} {
		req := httptest.NewRequest(http.MethodGet, "/payment_intents", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
		bodies = append(bodies, rec.Body.String())
	}
	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Errorf("failure bodies differ: %q vs %q", bodies[0], bodies[i])
		}
	}
}

func TestRequireAuthLogsRejectionReason(t *testing.T) {
	auth, _ := newTestAuthenticator(t)

	handler := auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), zerolog.New(&buf))

	req := httptest.NewRequest(http.MethodGet, "/payment_intents", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer seck_wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	logged := buf.String()
	if !strings.Contains(logged, "auth.rejected") || !strings.Contains(logged, ReasonInvalidKey) {
		t.Errorf("rejection reason not logged: %s", logged)
	}
	// The reason stays out of the response body.
	if strings.Contains(rec.Body.String(), ReasonInvalidKey) {
		t.Errorf("reason leaked into response: %s", rec.Body.String())
	}
}
