// Package metrics holds the Prometheus collectors for the ingest and triage paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	eventsIngested    *prometheus.CounterVec
	exceptionsCreated prometheus.Counter
	conflictRetries   *prometheus.CounterVec
	assignments       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "errorhub",
			Name:      "events_ingested_total",
			Help:      "Error events accepted by the ingest endpoint, by outcome.",
		}, []string{"outcome"}),
		exceptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "errorhub",
			Name:      "exceptions_created_total",
			Help:      "Exceptions created by a first occurrence of a new signature.",
		}),
		conflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "errorhub",
			Name:      "conflict_retries_total",
			Help:      "Writes retried after a concurrent-write conflict, by operation.",
		}, []string{"op"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "errorhub",
			Name:      "assignment_changes_total",
			Help:      "Assignee changes on exceptions, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.eventsIngested, m.exceptionsCreated, m.conflictRetries, m.assignments)
	return m
}

func (m *Metrics) EventIngested(outcome string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ExceptionCreated() {
	if m == nil {
		return
	}
	m.exceptionsCreated.Inc()
}

func (m *Metrics) ConflictRetried(op string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(op).Inc()
}

// AssignmentChanged records "assign", "unassign" or "revoke".
func (m *Metrics) AssignmentChanged(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.assignments.WithLabelValues(kind).Add(float64(n))
}
