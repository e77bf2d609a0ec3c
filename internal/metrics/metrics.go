// Package metrics exposes sync progress as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "keyvault2kube"

// Cycle outcomes.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// SyncMetrics records sync cycle metrics. A nil *SyncMetrics records nothing.
type SyncMetrics struct {
	cyclesTotal     *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	lastSuccess     prometheus.Gauge
	entriesListed   *prometheus.GaugeVec
	sourceErrors    *prometheus.CounterVec
	buildErrors     prometheus.Counter
	mergeErrors     prometheus.Counter
	secretsManaged  prometheus.Gauge
	actionsTotal    *prometheus.CounterVec
	actionsFailures *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// NewSyncMetrics registers the sync metrics with reg
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(reg)

	return &SyncMetrics{
		cyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "sync_cycles_total",
				Help:      "Total number of sync cycles by outcome",
			},
			[]string{"status"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "sync_cycle_duration_seconds",
				Help:      "Duration of sync cycles in seconds",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "last_successful_sync_timestamp_seconds",
				Help:      "Unix time of the last cycle that completed without errors",
			},
		),
		entriesListed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "source_entries",
				Help:      "Tagged entries returned by the last listing of each source",
			},
			[]string{"source"},
		),
		sourceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "source_errors_total",
				Help:      "Total number of failed source listings",
			},
			[]string{"source"},
		),
		buildErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "build_errors_total",
				Help:      "Total number of vault entries that could not be turned into a secret",
			},
		),
		mergeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "merge_errors_total",
				Help:      "Total number of secrets dropped because their entries conflict",
			},
		),
		secretsManaged: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "managed_secrets",
				Help:      "Secrets produced by the last merge",
			},
		),
		actionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "secret_actions_total",
				Help:      "Total number of applied reconcile decisions by action",
			},
			[]string{"action"},
		),
		actionsFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "secret_action_failures_total",
				Help:      "Total number of (secret, namespace) pairs that failed by stage",
			},
			[]string{"stage"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "notifications_total",
				Help:      "Total number of sync notifications by provider and result",
			},
			[]string{"provider", "result"},
		),
	}
}

// RecordCycle records a finished cycle.
func (m *SyncMetrics) RecordCycle(status string, duration time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(duration.Seconds())
	if status == StatusSuccess {
		m.lastSuccess.Set(float64(finished.Unix()))
	}
}

// RecordSourceListed records a successful listing.
func (m *SyncMetrics) RecordSourceListed(source string, entries int) {
	if m == nil {
		return
	}
	m.entriesListed.WithLabelValues(source).Set(float64(entries))
}

// RecordSourceError records a failed listing.
func (m *SyncMetrics) RecordSourceError(source string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(source).Inc()
}

// RecordBuildErrors adds per-entry build failures.
func (m *SyncMetrics) RecordBuildErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.buildErrors.Add(float64(n))
}

// RecordMerge records the merge outcome.
func (m *SyncMetrics) RecordMerge(records, failures int) {
	if m == nil {
		return
	}
	m.secretsManaged.Set(float64(records))
	if failures > 0 {
		m.mergeErrors.Add(float64(failures))
	}
}

// RecordAction records an applied decision (create, patch or skip).
func (m *SyncMetrics) RecordAction(action string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(action).Inc()
}

// RecordActionFailure records a failed pair; stage is read, create, patch or namespaces.
func (m *SyncMetrics) RecordActionFailure(stage string) {
	if m == nil {
		return
	}
	m.actionsFailures.WithLabelValues(stage).Inc()
}

// Notification results.
const (
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationDropped = "dropped"
)

// RecordNotification records one notification delivery attempt.
func (m *SyncMetrics) RecordNotification(provider, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(provider, result).Inc()
}
