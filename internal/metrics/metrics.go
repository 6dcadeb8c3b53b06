// Package metrics holds the service's Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts saga outcomes. A nil *Metrics is safe to call, so tests and
// tools can skip registration.
type Metrics struct {
	Dispatches      *prometheus.CounterVec
	Reconciliations *prometheus.CounterVec
	CreditsRefunded prometheus.Counter
}

// New registers the collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_dispatches_total",
			Help: "Dispatch attempts by outcome.",
		}, []string{"outcome"}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "generation_reconciliations_total",
			Help: "Worker callbacks by outcome.",
		}, []string{"outcome"}),
		CreditsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credits_refunded_total",
			Help: "Credits restored to users by compensation.",
		}),
	}
	reg.MustRegister(m.Dispatches, m.Reconciliations, m.CreditsRefunded)
	return m
}

// DispatchOutcome records one dispatch outcome.
func (m *Metrics) DispatchOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(outcome).Inc()
}

// ReconcileOutcome records one reconciliation outcome.
func (m *Metrics) ReconcileOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(outcome).Inc()
}

// Refunded records restored credits.
func (m *Metrics) Refunded(amount float64) {
	if m == nil {
		return
	}
	m.CreditsRefunded.Add(amount)
}
