package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RefreshesTotal counts reconciliation cache refreshes by outcome
	RefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accessoryd",
			Name:      "cache_refreshes_total",
			Help:      "Total number of reconciliation cache refresh requests",
		},
		[]string{"result"}, // "ran", "skipped_ttl", "skipped_in_progress"
	)

	// RefreshDuration observes how long a full refresh takes
	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "accessoryd",
			Name:      "cache_refresh_duration_seconds",
			Help:      "Duration of reconciliation cache refreshes",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
	)

	// SourceSamples records how many samples each source returned on its last run
	SourceSamples = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "accessoryd",
			Name:      "source_samples",
			Help:      "Number of battery samples returned by a telemetry source on its last run",
		},
		[]string{"source", "identifier_kind"},
	)

	// SourceErrors counts failed source collections
	SourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accessoryd",
			Name:      "source_errors_total",
			Help:      "Total number of failed telemetry source collections",
		},
		[]string{"source"},
	)

	// SourceDuration observes per-source collection latency
	SourceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "accessoryd",
			Name:      "source_duration_seconds",
			Help:      "Duration of telemetry source collections",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// AccessoriesConnected tracks the size of the live device set
	AccessoriesConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "accessoryd",
			Name:      "accessories_connected",
			Help:      "Number of audio accessories currently connected",
		},
	)

	// ConnectEvents counts connect events delivered to dispatchers
	ConnectEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accessoryd",
			Name:      "connect_events_total",
			Help:      "Total number of accessory connect events",
		},
		[]string{"battery"}, // "known", "unknown"
	)

	// MissingTelemetry tracks the size of the missing telemetry ledger
	MissingTelemetry = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "accessoryd",
			Name:      "missing_telemetry_devices",
			Help:      "Number of connected accessories without a retrievable battery value",
		},
	)

	// DirectoryErrors counts failed directory enumerations
	DirectoryErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "accessoryd",
			Name:      "directory_errors_total",
			Help:      "Total number of failed device directory enumerations",
		},
	)

	// Notifications counts OS push notifications received
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accessoryd",
			Name:      "directory_notifications_total",
			Help:      "Total number of connect/disconnect push notifications",
		},
		[]string{"connected"},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry
// This function is idempotent and can be called multiple times safely
func InitMetrics() {
	once.Do(func() {
		// Register metrics, ignoring errors if already registered
		prometheus.DefaultRegisterer.Register(RefreshesTotal)
		prometheus.DefaultRegisterer.Register(RefreshDuration)
		prometheus.DefaultRegisterer.Register(SourceSamples)
		prometheus.DefaultRegisterer.Register(SourceErrors)
		prometheus.DefaultRegisterer.Register(SourceDuration)
		prometheus.DefaultRegisterer.Register(AccessoriesConnected)
		prometheus.DefaultRegisterer.Register(ConnectEvents)
		prometheus.DefaultRegisterer.Register(MissingTelemetry)
		prometheus.DefaultRegisterer.Register(DirectoryErrors)
		prometheus.DefaultRegisterer.Register(Notifications)
	})
}
