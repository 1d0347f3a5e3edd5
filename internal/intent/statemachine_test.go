package intent

import (
	"testing"

	"github.com/sbtcgateway/server/internal/storage"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to storage.IntentStatus
		want     bool
	}{
		{storage.StatusRequiresPayment, storage.StatusProcessing, true},
		{storage.StatusRequiresPayment, storage.StatusCanceled, true},
		{storage.StatusRequiresPayment, storage.StatusFailed, true},
		{storage.StatusRequiresPayment, storage.StatusSucceeded, false},
		{storage.StatusProcessing, storage.StatusSucceeded, true},
		{storage.StatusProcessing, storage.StatusFailed, true},
		{storage.StatusProcessing, storage.StatusCanceled, false},
		{storage.StatusProcessing, storage.StatusRequiresPayment, false},
		{storage.StatusSucceeded, storage.StatusFailed, false},
		{storage.StatusFailed, storage.StatusProcessing, false},
		{storage.StatusCanceled, storage.StatusRequiresPayment, false},
		{storage.StatusSucceeded, storage.StatusSucceeded, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []storage.IntentStatus{storage.StatusSucceeded, storage.StatusFailed, storage.StatusCanceled}
	for _, status := range terminal {
		if !IsTerminal(status) {
			t.Errorf("IsTerminal(%q) = false, want true", status)
		}
	}
	live := []storage.IntentStatus{storage.StatusRequiresPayment, storage.StatusProcessing}
	for _, status := range live {
		if IsTerminal(status) {
			t.Errorf("IsTerminal(%q) = true, want false", status)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{"requires_payment", "processing", "succeeded", "failed", "canceled"} {
		if _, err := ParseStatus(valid); err != nil {
			t.Errorf("ParseStatus(%q) = %v, want nil", valid, err)
		}
	}
	for _, invalid := range []string{"", "SUCCEEDED", "pending", "cancelled", "requires-payment"} {
		if _, err := ParseStatus(invalid); err == nil {
			t.Errorf("ParseStatus(%q) = nil error, want failure", invalid)
		}
	}
}
