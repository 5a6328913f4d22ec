// Package metrics registers the Prometheus instruments for the verification
// core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	VerificationsTotal *prometheus.CounterVec
	QualityRejections  *prometheus.CounterVec
	ScorerFailures     *prometheus.CounterVec
	DecisionDuration   prometheus.Histogram
	AuditRetries       prometheus.Counter
}

// New registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on the given registerer. Tests pass a fresh
// registry to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faceverify_verifications_total",
			Help: "Completed verification decisions by outcome.",
		}, []string{"outcome"}),
		QualityRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faceverify_quality_rejections_total",
			Help: "Captures rejected by the quality gate, by modality.",
		}, []string{"modality"}),
		ScorerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faceverify_scorer_failures_total",
			Help: "Scorers dropped from the ensemble, by algorithm.",
		}, []string{"algorithm"}),
		DecisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "faceverify_decision_duration_seconds",
			Help:    "Wall time from scorer fan-out to final decision.",
			Buckets: prometheus.DefBuckets,
		}),
		AuditRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "faceverify_audit_retries_total",
			Help: "Retried writes to the audit store.",
		}),
	}
}
