package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "wurstmineberg_api"

// Collector provides a central place for all application metrics
type Collector struct {
	// Source metrics
	RecordsRead  *prometheus.CounterVec
	SourceErrors *prometheus.CounterVec
	Truncations  *prometheus.CounterVec

	// Normalizer metrics
	EventsNormalized *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec

	// Snapshot metrics
	RefreshDuration   prometheus.Histogram
	RefreshFailures   prometheus.Counter
	RefreshSkipped    prometheus.Counter
	SnapshotVersion   prometheus.Gauge
	SnapshotTimestamp prometheus.Gauge

	// Aggregate metrics
	OnlinePlayers     *prometheus.GaugeVec
	IntegrityWarnings *prometheus.GaugeVec

	// Boundary metrics
	EndpointRequests *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{registry: registry}

	c.RecordsRead = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "records_read_total",
			Help:      "Total number of raw records read, by source kind",
		},
		[]string{"source"},
	)

	c.SourceErrors = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "errors_total",
			Help:      "Total number of recoverable source read errors",
		},
		[]string{"source"},
	)

	c.Truncations = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "truncations_total",
			Help:      "Total number of detected file truncations or rotations",
		},
		[]string{"source"},
	)

	c.EventsNormalized = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalize",
			Name:      "events_total",
			Help:      "Total number of records normalized into events",
		},
		[]string{"source"},
	)

	c.RecordsSkipped = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalize",
			Name:      "skipped_total",
			Help:      "Total number of records skipped during normalization",
		},
		[]string{"reason"},
	)

	c.RefreshDuration = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of snapshot refresh passes",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.RefreshFailures = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "refresh_failures_total",
			Help:      "Total number of refresh passes that produced no snapshot",
		},
	)

	c.RefreshSkipped = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "refresh_skipped_total",
			Help:      "Total number of refreshes skipped because no source changed",
		},
	)

	c.SnapshotVersion = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "version",
			Help:      "Version number of the currently published snapshot",
		},
	)

	c.SnapshotTimestamp = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "generated_timestamp_seconds",
			Help:      "Unix timestamp of the currently published snapshot",
		},
	)

	c.OnlinePlayers = promauto.With(registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "online_players",
			Help:      "Number of players currently online, by world",
		},
		[]string{"world"},
	)

	c.IntegrityWarnings = promauto.With(registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "integrity_warnings",
			Help:      "Number of integrity warnings attached to the current snapshot, by world",
		},
		[]string{"world"},
	)

	c.EndpointRequests = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "requests_total",
			Help:      "Total number of endpoint data requests, by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	return c
}

// Registry returns the underlying prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
