package metrics

import (
	"time"
)

// MeasureDBQuery times a storage operation:
//
//	defer metrics.MeasureDBQuery(m, "get_intent", "postgres")()
//
// Safe on a nil collector.
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, backend, time.Since(start))
	}
}
