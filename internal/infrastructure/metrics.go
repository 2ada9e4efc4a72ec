package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments shared across the license
// subsystem. A single instance is created at startup and passed to the
// components that record into it.
type Metrics struct {
	VerificationsTotal  *prometheus.CounterVec
	ActivationsTotal    *prometheus.CounterVec
	FallbackAttempts    *prometheus.CounterVec
	RemoteLatencySecs   *prometheus.HistogramVec
	BenefitsEvaluations *prometheus.CounterVec
}

// NewMetrics registers the license metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gbt_license_verifications_total",
			Help: "License verification attempts by result.",
		}, []string{"result"}),
		ActivationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gbt_license_activations_total",
			Help: "License activation attempts by result.",
		}, []string{"result"}),
		FallbackAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gbt_remote_fallback_attempts_total",
			Help: "Remote request attempts by endpoint group and outcome.",
		}, []string{"group", "outcome"}),
		RemoteLatencySecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gbt_remote_request_duration_seconds",
			Help:    "Latency of remote license API requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"group"}),
		BenefitsEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gbt_benefits_evaluations_total",
			Help: "Benefits eligibility evaluations by decision.",
		}, []string{"decision"}),
	}
}
