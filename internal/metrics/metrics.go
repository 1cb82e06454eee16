// Package metrics exposes Prometheus instrumentation for the arbitration
// core: dispatch outcomes, fallback frequency, quota rejections, and
// attempt latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors registered for the control plane.
type Metrics struct {
	Dispatches      *prometheus.CounterVec // labels: backend, outcome
	Fallbacks       prometheus.Counter
	Exhaustions     prometheus.Counter
	QuotaRejections *prometheus.CounterVec // labels: backend
	BudgetWarnings  *prometheus.CounterVec // labels: phase
	AttemptLatency  prometheus.Histogram
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchgate",
			Name:      "dispatches_total",
			Help:      "Dispatch attempts by backend and outcome.",
		}, []string{"backend", "outcome"}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searchgate",
			Name:      "fallbacks_total",
			Help:      "Queries that succeeded on a backend other than the first-ranked one.",
		}),
		Exhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searchgate",
			Name:      "exhaustions_total",
			Help:      "Queries that exhausted every admissible backend.",
		}),
		QuotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchgate",
			Name:      "quota_rejections_total",
			Help:      "Candidates skipped because their quota window was full.",
		}, []string{"backend"}),
		BudgetWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchgate",
			Name:      "budget_warnings_total",
			Help:      "Results returned with the budget warning flag set.",
		}, []string{"phase"}),
		AttemptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "searchgate",
			Name:      "attempt_latency_seconds",
			Help:      "Latency of individual dispatch attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.Dispatches,
		m.Fallbacks,
		m.Exhaustions,
		m.QuotaRejections,
		m.BudgetWarnings,
		m.AttemptLatency,
	)
	return m
}

// NewNop creates unregistered collectors for tests and library use
// without a Prometheus registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
