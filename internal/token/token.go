// Package token generates the opaque identifiers and secrets handed out by
// the gateway. Everything here is backed by crypto/rand: none of these values
// may be derived from intent ids, timestamps, or any other predictable seed,
// or an attacker could guess a checkout link before it is issued.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Prefixes keep identifiers self-describing in logs and merchant databases.
const (
	prefixIntent    = "pi_"
	prefixEvent     = "evt_"
	prefixEndpoint  = "wh_"
	prefixSecretKey = "seck_"
	prefixWebhookMS = "whsec_"
	prefixClientSec = "pi_secret_"
)

// randomHex returns n random bytes hex-encoded. crypto/rand failure is
// unrecoverable; issuing a predictable identifier is worse than crashing.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("token: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}

// NewIntentID allocates a payment intent identifier ("pi_" + 16 random bytes).
func NewIntentID() string {
	return prefixIntent + randomHex(16)
}

// NewContractID allocates the 32-byte on-chain registration identifier for a
// payment intent, hex encoded. Generated once at creation, never reused.
func NewContractID() string {
	return randomHex(32)
}

// NewClientSecret allocates the checkout-scoped secret for a payment intent.
// 32 random bytes gives 256 bits of entropy.
func NewClientSecret() string {
	return prefixClientSec + randomHex(32)
}

// NewEventID allocates a webhook event identifier ("evt_" + 12 random bytes).
// Receivers use it as their idempotency key.
func NewEventID() string {
	return prefixEvent + randomHex(12)
}

// NewEndpointID allocates a webhook endpoint identifier.
func NewEndpointID() string {
	return prefixEndpoint + randomHex(12)
}

// NewWebhookSecret allocates the signing secret for a webhook endpoint.
// Generated server-side only, never derived from the endpoint URL.
func NewWebhookSecret() string {
	return prefixWebhookMS + randomHex(32)
}

// NewSecretKey allocates a merchant API secret key. Only its hash is stored.
func NewSecretKey() string {
	return prefixSecretKey + randomHex(32)
}
