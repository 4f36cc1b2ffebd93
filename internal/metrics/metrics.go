package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ledger holds the engine's collectors. A nil *Ledger is a no-op recorder.
type Ledger struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
}

// NewLedger registers the ledger collectors on reg.
func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger engine operations by outcome.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wallet",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of ledger engine operations, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallet",
			Subsystem: "ledger",
			Name:      "storage_conflicts_total",
			Help:      "Units of work aborted by a concurrent write.",
		}, []string{"operation"}),
	}
	reg.MustRegister(m.operations, m.duration, m.conflicts)
	return m
}

// Observe records one finished operation. result is "ok" or an error kind.
func (m *Ledger) Observe(operation, result string, started time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Conflict counts a retried unit of work.
func (m *Ledger) Conflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}
