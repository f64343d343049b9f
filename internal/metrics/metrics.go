// Package metrics exposes Prometheus counters for annotation persistence.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "annotate"

// Persist outcomes
const (
	OutcomeCommitted    = "committed"
	OutcomeRolledBack   = "rolled_back"
	OutcomeBackupFailed = "backup_failed"
	OutcomeStale        = "stale_source"
	OutcomeFailed       = "failed"
)

// Metrics holds the collectors registered for one process
type Metrics struct {
	persists        *prometheus.CounterVec
	persistDuration prometheus.Histogram
	updatedEntities prometheus.Counter
	backups         prometheus.Counter
	rollbacks       *prometheus.CounterVec
	conflicts       prometheus.Counter
	reloads         prometheus.Counter
}

// New creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_total",
			Help:      "Persist attempts by outcome.",
		}, []string{"outcome"}),
		persistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Wall time of persist calls, backup through write.",
			Buckets:   prometheus.DefBuckets,
		}),
		updatedEntities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_entities_total",
			Help:      "Entities whose attributes were rewritten by persist.",
		}),
		backups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Backups written before a canonical file was replaced.",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Canonical files restored from a backup, by trigger.",
		}, []string{"trigger"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Annotations flagged because the source changed underneath them.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Source documents reloaded into a session.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.persists, m.persistDuration, m.updatedEntities, m.backups, m.rollbacks, m.conflicts, m.reloads)
	}
	return m
}

// ObservePersist records one persist attempt: its outcome, how many entities
// it rewrote and how long it took
func (m *Metrics) ObservePersist(outcome string, updated int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.persists.WithLabelValues(outcome).Inc()
	m.persistDuration.Observe(elapsed.Seconds())
	if outcome == OutcomeCommitted {
		m.updatedEntities.Add(float64(updated))
	}
}

// BackupCreated counts a backup written before a persist
func (m *Metrics) BackupCreated() {
	if m == nil {
		return
	}
	m.backups.Inc()
}

// RolledBack counts a restore; trigger is "auto" after a failed write or "manual"
func (m *Metrics) RolledBack(trigger string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(trigger).Inc()
}

// ConflictsFound adds n newly flagged conflicts
func (m *Metrics) ConflictsFound(n int) {
	if m == nil || n == 0 {
		return
	}
	m.conflicts.Add(float64(n))
}

// Reloaded counts a source reload
func (m *Metrics) Reloaded() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}
