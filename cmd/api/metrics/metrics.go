// Package metrics provides Prometheus instrumentation for the serving API.
//
// Metrics exposed:
//   - iris_predict_seconds: Histogram of prediction latency
//   - iris_predictions_total: Counter of predictions by class name
//   - iris_model_reloads_total: Counter of model resolutions by result
//   - iris_model_loaded: Gauge, 1 when a model is being served
//   - iris_model_info: Gauge set to 1 for the served version and source
//   - iris_errors_total: Counter of errors by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the API.
type Metrics struct {
	PredictSeconds   prometheus.Histogram
	PredictionsTotal *prometheus.CounterVec
	ReloadsTotal     *prometheus.CounterVec
	ModelLoaded      prometheus.Gauge
	ModelInfo        *prometheus.GaugeVec
	ErrorsTotal      *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PredictSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "iris_predict_seconds",
			Help:    "Time spent computing one prediction",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),

		PredictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_predictions_total",
			Help: "Total number of predictions by predicted class",
		}, []string{"class"}),

		ReloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_model_reloads_total",
			Help: "Total number of model resolutions by result",
		}, []string{"result"}),

		ModelLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "iris_model_loaded",
			Help: "1 when a model is loaded, 0 otherwise",
		}),

		ModelInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iris_model_info",
			Help: "Served model version and source (value is always 1)",
		}, []string{"version", "source"}),

		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordPredict records one successful prediction.
func (m *Metrics) RecordPredict(seconds float64, class string) {
	m.PredictSeconds.Observe(seconds)
	m.PredictionsTotal.WithLabelValues(class).Inc()
}

// RecordReload records a resolution attempt. version and source are only
// used on success.
func (m *Metrics) RecordReload(ok bool, version, source string) {
	if !ok {
		m.ReloadsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.ReloadsTotal.WithLabelValues("success").Inc()
	m.ModelLoaded.Set(1)
	m.ModelInfo.Reset()
	m.ModelInfo.WithLabelValues(version, source).Set(1)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
