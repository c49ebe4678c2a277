package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit ledger.
type Metrics struct {
	EntriesRecorded *prometheus.CounterVec
	AppendFailures  prometheus.Counter
}

// New creates and registers audit metrics on the default registry.
// Construct once in main; tests pass a nil *Metrics instead.
func New() *Metrics {
	return &Metrics{
		EntriesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fundgate_audit_entries_recorded_total",
			Help: "Total audit entries appended to the ledger, by action",
		}, []string{"action"}),
		AppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_audit_append_failures_total",
			Help: "Total audit appends that failed (entries dropped, best-effort policy)",
		}),
	}
}

func (m *Metrics) IncrementEntriesRecorded(action string) {
	m.EntriesRecorded.WithLabelValues(action).Inc()
}

func (m *Metrics) IncrementAppendFailures() {
	m.AppendFailures.Inc()
}
