package token

import (
	"strings"
	"testing"
)

func TestGenerators_UniqueAcrossCalls(t *testing.T) {
	generators := map[string]func() string{
		"intent id":      NewIntentID,
		"contract id":    NewContractID,
		"client secret":  NewClientSecret,
		"event id":       NewEventID,
		"endpoint id":    NewEndpointID,
		"webhook secret": NewWebhookSecret,
		"secret key":     NewSecretKey,
	}

	for name, gen := range generators {
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			v := gen()
			if seen[v] {
				t.Fatalf("%s: duplicate value %q after %d draws", name, v, i)
			}
			seen[v] = true
		}
	}
}

func TestGenerators_Shape(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		prefix string
		hexLen int
	}{
		{"intent id", NewIntentID(), "pi_", 32},
		{"contract id", NewContractID(), "", 64},
		{"client secret", NewClientSecret(), "pi_secret_", 64},
		{"event id", NewEventID(), "evt_", 24},
		{"endpoint id", NewEndpointID(), "wh_", 24},
		{"webhook secret", NewWebhookSecret(), "whsec_", 64},
		{"secret key", NewSecretKey(), "seck_", 64},
	}

	for _, tt := range tests {
		if !strings.HasPrefix(tt.value, tt.prefix) {
			t.Errorf("%s %q missing prefix %q", tt.name, tt.value, tt.prefix)
		}
		body := strings.TrimPrefix(tt.value, tt.prefix)
		if len(body) != tt.hexLen {
			t.Errorf("%s body length = %d, want %d", tt.name, len(body), tt.hexLen)
		}
		for _, c := range body {
			if !strings.ContainsRune("0123456789abcdef", c) {
				t.Errorf("%s contains non-hex character %q", tt.name, c)
				break
			}
		}
	}
}
