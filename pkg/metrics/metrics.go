// Package metrics provides Prometheus instrumentation for the submission
// pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Submission outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so instrumentation stays optional.
type Metrics struct {
	submissionsTotal     *prometheus.CounterVec
	chunksEncryptedTotal prometheus.Counter
	stageFailuresTotal   *prometheus.CounterVec
}

// New creates and registers the pipeline collectors on reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "submissions_total",
				Help:      "Submissions by terminal outcome",
			},
			[]string{"outcome"},
		),
		chunksEncryptedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "chunks_encrypted_total",
				Help:      "File chunks acknowledged by the cryptographic agent",
			},
		),
		stageFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_failures_total",
				Help:      "Submission failures by pipeline stage",
			},
			[]string{"stage"},
		),
	}

	reg.MustRegister(m.submissionsTotal, m.chunksEncryptedTotal, m.stageFailuresTotal)
	return m
}

// RecordSubmission counts one terminal submission outcome.
func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

// AddChunks counts acknowledged chunks.
func (m *Metrics) AddChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksEncryptedTotal.Add(float64(n))
}

// RecordStageFailure counts one failure at the given pipeline stage.
func (m *Metrics) RecordStageFailure(stage string) {
	if m == nil {
		return
	}
	m.stageFailuresTotal.WithLabelValues(stage).Inc()
}
