// Package metrics provides Prometheus instrumentation for the training
// controller.
//
// Metrics exposed:
//   - iris_training_jobs_submitted_total: Counter of submissions by result
//   - iris_training_jobs_deleted_total: Counter of deletions by result
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Results recorded by the counters.
const (
	ResultCreated  = "created"
	ResultDeleted  = "deleted"
	ResultInvalid  = "invalid"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics holds all Prometheus metrics of the controller.
type Metrics struct {
	SubmittedTotal *prometheus.CounterVec
	DeletedTotal   *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SubmittedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_training_jobs_submitted_total",
			Help: "Total number of training job submissions by result",
		}, []string{"result"}),

		DeletedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_training_jobs_deleted_total",
			Help: "Total number of training job deletions by result",
		}, []string{"result"}),
	}
}

// RecordSubmission counts one POST /jobs/train outcome.
func (m *Metrics) RecordSubmission(result string) {
	m.SubmittedTotal.WithLabelValues(result).Inc()
}

// RecordDeletion counts one DELETE /jobs outcome.
func (m *Metrics) RecordDeletion(result string) {
	m.DeletedTotal.WithLabelValues(result).Inc()
}
