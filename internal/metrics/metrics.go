// Package metrics provides Prometheus metrics for the prediction service.
// It covers per-vertical predictions, failures and latency, model registry
// loads and fallbacks, and experiment tracker writes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the service.
type Metrics struct {
	// Vertical metrics, labelled by vertical
	Predictions       *prometheus.CounterVec   // Successful predictions
	Failures          *prometheus.CounterVec   // Failed predictions, also labelled by error kind
	PredictionLatency *prometheus.HistogramVec // End-to-end request latency
	Timeouts          *prometheus.CounterVec   // Inference deadline exceeded
	DegradedServed    *prometheus.CounterVec   // Predictions served by an untrained default model

	// Registry metrics
	ModelLoads    prometheus.Counter   // Artifact load attempts
	FallbackUse   prometheus.Counter   // Loads that fell back to an untrained default
	ModelLoadTime prometheus.Histogram // Artifact load latency

	// Tracker metrics
	TrackerRuns     prometheus.Counter // Runs written
	TrackerFailures prometheus.Counter // Runs that could not be written
	TrackerDropped  prometheus.Counter // Prediction logs dropped from a full queue

	// Feed metrics
	FeedClients prometheus.Gauge   // Connected prediction feed clients
	FeedDropped prometheus.Counter // Feed messages dropped for slow clients
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of successful predictions",
		}, []string{"vertical"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of failed predictions by error kind",
		}, []string{"vertical", "kind"}),
		PredictionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Prediction latency in seconds (end-to-end)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"vertical"}),
		Timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inference_timeouts_total",
			Help: "Total number of inference timeouts",
		}, []string{"vertical"}),
		DegradedServed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "degraded_predictions_total",
			Help: "Total number of predictions served by an untrained default model",
		}, []string{"vertical"}),
		ModelLoads: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_loads_total",
			Help: "Total number of model artifact loads",
		}),
		FallbackUse: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_fallback_use_total",
			Help: "Total number of times the untrained default model was used",
		}),
		ModelLoadTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "model_load_duration_seconds",
			Help:    "Model artifact load duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		TrackerRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_runs_total",
			Help: "Total number of runs written to the experiment tracker",
		}),
		TrackerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_failures_total",
			Help: "Total number of runs the experiment tracker failed to write",
		}),
		TrackerDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tracker_dropped_total",
			Help: "Total number of prediction logs dropped because the tracking queue was full",
		}),
		FeedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prediction_feed_clients",
			Help: "Number of connected prediction feed clients",
		}),
		FeedDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_feed_dropped_total",
			Help: "Total number of feed messages dropped for slow clients",
		}),
	}
}

// ErrorRate is the fraction of finished requests of a vertical that failed,
// or 0 if none has finished yet.
func (m *Metrics) ErrorRate(gatherer prometheus.Gatherer, vertical string) float64 {
	families, err := gatherer.Gather()
	if err != nil {
		return 0
	}
	var ok, failed float64
	for _, mf := range families {
		switch mf.GetName() {
		case "predictions_total":
			for _, m := range mf.GetMetric() {
				if labelValue(m.GetLabel(), "vertical") == vertical {
					ok += m.GetCounter().GetValue()
				}
			}
		case "prediction_failures_total":
			for _, m := range mf.GetMetric() {
				if labelValue(m.GetLabel(), "vertical") == vertical {
					failed += m.GetCounter().GetValue()
				}
			}
		}
	}
	if ok+failed == 0 {
		return 0
	}
	return failed / (ok + failed)
}
