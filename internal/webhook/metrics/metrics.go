// Package metrics exposes webhook reconciliation counters. Constructed
// once in main; handlers tolerate a nil *Metrics so tests skip registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeUnknown   = "unknown_process"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

type Metrics struct {
	CallbacksReceived prometheus.Counter
	Callbacks         *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		CallbacksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "fundgate",
			Subsystem: "webhook",
			Name:      "callbacks_received_total",
			Help:      "Provider callbacks received, before any validation.",
		}),
		Callbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fundgate",
			Subsystem: "webhook",
			Name:      "callbacks_total",
			Help:      "Provider callbacks by reconciliation outcome.",
		}, []string{"outcome"}),
	}
}

// Count is nil-safe so handlers can run without registered metrics.
func (m *Metrics) Count(outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(outcome).Inc()
}

// Received is nil-safe.
func (m *Metrics) Received() {
	if m == nil {
		return
	}
	m.CallbacksReceived.Inc()
}
