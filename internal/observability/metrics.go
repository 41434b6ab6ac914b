package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streamflow_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	Runs            *prometheus.CounterVec // labels: outcome={success,missing_source,missing_baseline,load_error}
	RunDuration     prometheus.Histogram
	PipelineRunning prometheus.Gauge

	ReadingsLoaded   prometheus.Counter
	ReadingsRejected *prometheus.CounterVec // labels: reason
	SourcesMissing   prometheus.Counter

	// Output metrics, set after every successful run.
	SnapshotSites      prometheus.Gauge
	HighFlowSites      prometheus.Gauge
	BaselineDuplicates prometheus.Gauge

	SinkErrors *prometheus.CounterVec // labels: sink

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Runs,
		m.RunDuration,
		m.PipelineRunning,
		m.ReadingsLoaded,
		m.ReadingsRejected,
		m.SourcesMissing,
		m.SnapshotSites,
		m.HighFlowSites,
		m.BaselineDuplicates,
		m.SinkErrors,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete extract-transform-load run.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while the interval runner is active, 0 when shut down.",
		}),
		ReadingsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_loaded_total",
			Help:      "Readings parsed from reading sources.",
		}),
		ReadingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Input rows dropped, by reason.",
		}, []string{"reason"}),
		SourcesMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_missing_total",
			Help:      "Reading sources that could not be opened.",
		}),
		SnapshotSites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_sites",
			Help:      "Sites in the latest snapshot table.",
		}),
		HighFlowSites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "high_flow_sites",
			Help:      "Sites at or above their p90 baseline in the latest snapshot table.",
		}),
		BaselineDuplicates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_duplicate_keys",
			Help:      "Site/day keys that appear more than once in the baseline table.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed writes to secondary sinks.",
		}, []string{"sink"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}
