// Package metrics exposes prometheus counters for rejected operations and
// remote failures.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "actionboard"

type Metrics struct {
	ConstraintViolations *prometheus.CounterVec
	ValidationFailures   *prometheus.CounterVec
	AssignmentConflicts  prometheus.Counter
	RemoteSyncErrors     *prometheus.CounterVec
	Commits              *prometheus.CounterVec
	Sessions             prometheus.Gauge
}

// New creates the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConstraintViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "constraint_violations_total",
			Help:      "Selection changes rejected by a mandatory-category minimum.",
		}, []string{"category"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Wizard transitions rejected by a step predicate.",
		}, []string{"step"}),
		AssignmentConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignment_conflicts_total",
			Help:      "Member assignments rejected because the member belongs to another team.",
		}),
		RemoteSyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_sync_errors_total",
			Help:      "Failed calls to the favorites service or the persistence adapter.",
		}, []string{"operation"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Final submissions by result.",
		}, []string{"result"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Open onboarding sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ConstraintViolations, m.ValidationFailures, m.AssignmentConflicts,
			m.RemoteSyncErrors, m.Commits, m.Sessions)
	}
	return m
}

// The helpers below are nil-safe so components can run without metrics.

func (m *Metrics) ConstraintViolation(categoryID string) {
	if m != nil {
		m.ConstraintViolations.WithLabelValues(categoryID).Inc()
	}
}

func (m *Metrics) ValidationFailure(step string) {
	if m != nil {
		m.ValidationFailures.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) AssignmentConflict() {
	if m != nil {
		m.AssignmentConflicts.Inc()
	}
}

func (m *Metrics) RemoteSyncError(op string) {
	if m != nil {
		m.RemoteSyncErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Commit(result string) {
	if m != nil {
		m.Commits.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.Sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.Sessions.Dec()
	}
}
