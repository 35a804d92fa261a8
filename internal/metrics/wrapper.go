package metrics

import (
	dto "github.com/prometheus/client_model/go"
)

// MetricsWrapper adapts Metrics to the narrow metrics interfaces of the
// registry, the tracker, the service and the prediction feed.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// registry

func (w *MetricsWrapper) MLModelLoadsInc()               { w.m.ModelLoads.Inc() }
func (w *MetricsWrapper) MLFallbackUseInc()              { w.m.FallbackUse.Inc() }
func (w *MetricsWrapper) MLLoadLatencyObserve(v float64) { w.m.ModelLoadTime.Observe(v) }

// tracker

func (w *MetricsWrapper) TrackerRunsInc()     { w.m.TrackerRuns.Inc() }
func (w *MetricsWrapper) TrackerFailuresInc() { w.m.TrackerFailures.Inc() }

// service

func (w *MetricsWrapper) PredictionsInc(vertical string) {
	w.m.Predictions.WithLabelValues(vertical).Inc()
}

func (w *MetricsWrapper) FailuresInc(vertical, kind string) {
	w.m.Failures.WithLabelValues(vertical, kind).Inc()
}

func (w *MetricsWrapper) LatencyObserve(vertical string, seconds float64) {
	w.m.PredictionLatency.WithLabelValues(vertical).Observe(seconds)
}

func (w *MetricsWrapper) TimeoutsInc(vertical string) {
	w.m.Timeouts.WithLabelValues(vertical).Inc()
}

func (w *MetricsWrapper) DegradedInc(vertical string) {
	w.m.DegradedServed.WithLabelValues(vertical).Inc()
}

func (w *MetricsWrapper) PredictionLogDroppedInc() { w.m.TrackerDropped.Inc() }

// feed

func (w *MetricsWrapper) FeedClientsSet(n int) { w.m.FeedClients.Set(float64(n)) }
func (w *MetricsWrapper) FeedDroppedInc()      { w.m.FeedDropped.Inc() }

func labelValue(pairs []*dto.LabelPair, name string) string {
	for _, p := range pairs {
		if p.GetName() == name {
			return p.GetValue()
		}
	}
	return ""
}
