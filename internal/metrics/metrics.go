// Package metrics provides Prometheus metrics for pondwatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "pondwatch"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Ingestion metrics
var (
	// MessagesReceivedTotal counts payloads delivered by the broker.
	MessagesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_received_total",
			Help:      "Total telemetry messages delivered by the broker",
		},
	)

	// MessagesRejectedTotal counts payloads dropped before queueing.
	MessagesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_rejected_total",
			Help:      "Telemetry messages rejected by validation",
		},
		[]string{"reason"},
	)

	// FieldsDroppedTotal counts measurement fields discarded during normalization.
	FieldsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "fields_dropped_total",
			Help:      "Payload fields discarded during normalization",
		},
		[]string{"field"},
	)

	// MQTTState is the subscriber state (0 disconnected .. 4 failed).
	MQTTState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "state",
			Help:      "Current MQTT subscriber state",
		},
	)

	// MQTTReconnectsTotal counts reconnect attempts.
	MQTTReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "reconnect_attempts_total",
			Help:      "Total MQTT reconnect attempts",
		},
	)
)

// Queue and worker metrics
var (
	// QueueDepth tracks readings waiting for a worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Readings waiting for a worker",
		},
	)

	// QueueDroppedTotal counts readings dropped because a shard was full.
	QueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Total readings dropped due to queue overflow",
		},
	)

	// ProcessingDuration tracks per-reading worker latency.
	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "processing_duration_seconds",
			Help:      "Time to persist, evaluate and fan out one reading",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// WorkerPanicsTotal counts recovered worker panics.
	WorkerPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "worker_panics_total",
			Help:      "Total panics recovered in pipeline workers",
		},
	)
)

// Storage metrics
var (
	// ReadingsPersistedTotal counts readings written to the primary store.
	ReadingsPersistedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "readings_persisted_total",
			Help:      "Total readings written to the primary store",
		},
	)

	// StorageErrorsTotal counts failed store writes by entity.
	StorageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total failed writes to the primary store",
		},
		[]string{"entity"},
	)

	// ArchivePending tracks readings waiting to be archived.
	ArchivePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "pending_readings",
			Help:      "Readings waiting to be flushed to the archive",
		},
	)

	// ArchiveDroppedTotal counts readings dropped from the archive buffer.
	ArchiveDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "dropped_total",
			Help:      "Total readings dropped due to archive buffer overflow",
		},
	)

	// ArchiveErrorsTotal counts failed archive flushes.
	ArchiveErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "flush_errors_total",
			Help:      "Total failed archive flushes",
		},
	)

	// ArchiveFlushDuration tracks archive flush latency.
	ArchiveFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "flush_duration_seconds",
			Help:      "Archive flush latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// Alert metrics
var (
	// AlertsEmittedTotal counts alerts produced by the evaluator.
	AlertsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "emitted_total",
			Help:      "Total alerts emitted",
		},
		[]string{"severity", "source"},
	)

	// AlertsPendingReconcile tracks alerts waiting to be re-persisted.
	AlertsPendingReconcile = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "pending_reconcile",
			Help:      "Alerts that failed to persist and await reconciliation",
		},
	)

	// NotificationsTotal counts notification attempts by notifier and outcome.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "notifications_total",
			Help:      "Notification attempts by notifier and status",
		},
		[]string{"notifier", "status"},
	)
)

// Push metrics
var (
	// PushClients tracks connected live-push subscribers.
	PushClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "clients",
			Help:      "Connected live-push subscribers",
		},
	)

	// PushDroppedTotal counts push messages dropped for slow consumers.
	PushDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "dropped_total",
			Help:      "Total push messages dropped",
		},
	)
)

// Build info
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
