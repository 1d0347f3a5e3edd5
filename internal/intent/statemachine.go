package intent

import (
	"fmt"

	"github.com/sbtcgateway/server/internal/storage"
)

// transitions is the authoritative map of allowed status changes. A status
// absent from the map is terminal.
var transitions = map[storage.IntentStatus][]storage.IntentStatus{
	storage.StatusRequiresPayment: {storage.StatusProcessing, storage.StatusCanceled, storage.StatusFailed},
	storage.StatusProcessing:      {storage.StatusSucceeded, storage.StatusFailed},
}

// ParseStatus validates a client-supplied status string.
func ParseStatus(s string) (storage.IntentStatus, error) {
	switch status := storage.IntentStatus(s); status {
	case storage.StatusRequiresPayment, storage.StatusProcessing,
		storage.StatusSucceeded, storage.StatusFailed, storage.StatusCanceled:
		return status, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to storage.IntentStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status storage.IntentStatus) bool {
	return len(transitions[status]) == 0
}
