package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// reconciliation pipeline.
type Metrics struct {
	RecordsConsumed prometheus.Counter
	RecordsEmitted  prometheus.Counter
	GroupsProcessed prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Merge decisions, labelled by pass (strict|loose) and outcome
	// (fold|reject).
	Folds *prometheus.CounterVec

	PreconditionFailures prometheus.Counter

	GroupSize     prometheus.Histogram
	GroupDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RecordsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "station_recon",
			Name:      "records_consumed_total",
			Help:      "Total station records read from the source topic.",
		}),
		RecordsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "station_recon",
			Name:      "records_emitted_total",
			Help:      "Total merged records written to the sink topic.",
		}),
		GroupsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "station_recon",
			Name:      "groups_processed_total",
			Help:      "Total station groups reconciled.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "station_recon",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		Folds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "station_recon",
			Name:      "folds_total",
			Help:      "Merge decisions by pass and outcome.",
		}, []string{"pass", "outcome"}),
		PreconditionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "station_recon",
			Name:      "precondition_failures_total",
			Help:      "Fatal contract violations detected in the input stream.",
		}),
		GroupSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "station_recon",
			Name:      "group_size",
			Help:      "Number of duplicate records per station group.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10, 15, 20},
		}),
		GroupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "station_recon",
			Name:      "group_processing_duration_seconds",
			Help:      "Duration of one station group's reconciliation.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	prometheus.MustRegister(
		m.RecordsConsumed,
		m.RecordsEmitted,
		m.GroupsProcessed,
		m.PipelineRunning,
		m.Folds,
		m.PreconditionFailures,
		m.GroupSize,
		m.GroupDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RecordsConsumed:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "station_recon", Name: "records_consumed_total"}),
		RecordsEmitted:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "station_recon", Name: "records_emitted_total"}),
		GroupsProcessed:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "station_recon", Name: "groups_processed_total"}),
		PipelineRunning:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "station_recon", Name: "pipeline_running"}),
		Folds:                prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "station_recon", Name: "folds_total"}, []string{"pass", "outcome"}),
		PreconditionFailures: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "station_recon", Name: "precondition_failures_total"}),
		GroupSize:            prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "station_recon", Name: "group_size"}),
		GroupDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "station_recon", Name: "group_processing_duration_seconds"}),
	}
}
