package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the compliance core. All
// increment helpers are nil-safe so tests can pass a nil *Metrics.
type Metrics struct {
	EventsAppended      *prometheus.CounterVec
	IdempotentReplays   prometheus.Counter
	IntegrityViolations *prometheus.CounterVec
	AppendDuration      prometheus.Histogram
	ConsentDecisions    *prometheus.CounterVec
	ConsentTransitions  *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers on a caller-supplied registry; used by tests to avoid
// duplicate registration on the global registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_audit_events_appended_total",
			Help: "Total number of events appended to the audit ledger, by partition.",
		}, []string{"partition"}),
		IdempotentReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "neonpro_audit_idempotent_replays_total",
			Help: "Total number of appends absorbed by the idempotency check.",
		}),
		IntegrityViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_audit_integrity_violations_total",
			Help: "Total number of integrity violations detected, by partition.",
		}, []string{"partition"}),
		AppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "neonpro_audit_append_duration_seconds",
			Help:    "Latency of ledger appends.",
			Buckets: prometheus.DefBuckets,
		}),
		ConsentDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_consent_decisions_total",
			Help: "Total number of consent checks, by decision and purpose.",
		}, []string{"decision", "purpose"}),
		ConsentTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_consent_transitions_total",
			Help: "Total number of consent transitions, by transition type.",
		}, []string{"transition"}),
	}
}

func (m *Metrics) RecordAppend(partition string, seconds float64) {
	if m == nil {
		return
	}
	m.EventsAppended.WithLabelValues(partition).Inc()
	m.AppendDuration.Observe(seconds)
}

func (m *Metrics) RecordIdempotentReplay() {
	if m == nil {
		return
	}
	m.IdempotentReplays.Inc()
}

func (m *Metrics) RecordIntegrityViolation(partition string) {
	if m == nil {
		return
	}
	m.IntegrityViolations.WithLabelValues(partition).Inc()
}

func (m *Metrics) RecordConsentDecision(decision, purpose string) {
	if m == nil {
		return
	}
	m.ConsentDecisions.WithLabelValues(decision, purpose).Inc()
}

func (m *Metrics) RecordConsentTransition(transition string) {
	if m == nil {
		return
	}
	m.ConsentTransitions.WithLabelValues(transition).Inc()
}
