// Package metrics exposes Prometheus counters for sync and delivery.
//
// Metrics:
//   - taskd_sync_runs_total{result} - sync passes by outcome ("ok", "partial", "config_error")
//   - taskd_sync_documents_total{direction} - documents pushed or pulled
//   - taskd_sync_conflicts_total - equal-version conflicts resolved
//   - taskd_sync_entity_errors_total - per-entity and phase errors
//   - taskd_notifications_delivered_total - reminders displayed by this device
//   - taskd_notifications_duplicates_total - deliveries suppressed by the duplicate guard
//   - taskd_notifications_lock_contention_total{reason} - lost claims ("local", "fence")
//   - taskd_notifications_dispatch_failures_total - dispatcher errors
//   - taskd_queue_depth - pending queue rows after the last delivery pass
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	SyncRuns         *prometheus.CounterVec
	SyncDocuments    *prometheus.CounterVec
	SyncConflicts    prometheus.Counter
	SyncErrors       prometheus.Counter
	Delivered        prometheus.Counter
	Duplicates       prometheus.Counter
	LockContention   *prometheus.CounterVec
	DispatchFailures prometheus.Counter
	QueueDepth       prometheus.Gauge
}

// New registers the collectors on reg. Pass a fresh prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskd_sync_runs_total",
			Help: "Total number of sync passes by result",
		}, []string{"result"}),
		SyncDocuments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskd_sync_documents_total",
			Help: "Total number of documents pushed or pulled",
		}, []string{"direction"}),
		SyncConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "taskd_sync_conflicts_total",
			Help: "Total number of equal-version conflicts resolved",
		}),
		SyncErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "taskd_sync_entity_errors_total",
			Help: "Total number of per-entity and phase errors during sync",
		}),
		Delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "taskd_notifications_delivered_total",
			Help: "Total number of reminders displayed by this device",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "taskd_notifications_duplicates_total",
			Help: "Total number of deliveries suppressed by the duplicate guard",
		}),
		LockContention: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskd_notifications_lock_contention_total",
			Help: "Total number of lost claims by reason",
		}, []string{"reason"}),
		DispatchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "taskd_notifications_dispatch_failures_total",
			Help: "Total number of dispatcher errors",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskd_queue_depth",
			Help: "Pending notification queue rows after the last delivery pass",
		}),
	}
}

func (m *Metrics) RecordSync(result string, pushed, pulled, conflicts, errs int) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(result).Inc()
	m.SyncDocuments.WithLabelValues("push").Add(float64(pushed))
	m.SyncDocuments.WithLabelValues("pull").Add(float64(pulled))
	m.SyncConflicts.Add(float64(conflicts))
	m.SyncErrors.Add(float64(errs))
}

func (m *Metrics) RecordDelivered() {
	if m == nil {
		return
	}
	m.Delivered.Inc()
}

func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.Duplicates.Inc()
}

func (m *Metrics) RecordContention(reason string) {
	if m == nil {
		return
	}
	m.LockContention.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordDispatchFailure() {
	if m == nil {
		return
	}
	m.DispatchFailures.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
