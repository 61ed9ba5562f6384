package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the service counters exposed on /metrics.
type Metrics struct {
	Webhooks    *prometheus.CounterVec
	Runs        *prometheus.CounterVec
	Provenance  *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
}

// NewMetrics registers the counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recipebot",
			Name:      "webhooks_total",
			Help:      "Webhooks received, by platform and outcome.",
		}, []string{"platform", "outcome"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recipebot",
			Name:      "runs_total",
			Help:      "Analysis runs, by platform and final status.",
		}, []string{"platform", "status"}),
		Provenance: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recipebot",
			Name:      "analysis_provenance_total",
			Help:      "Analyses by the strategy that produced them.",
		}, []string{"provenance"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "recipebot",
			Name:      "run_duration_seconds",
			Help:      "Wall time of analysis runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"platform"}),
	}
}

// Webhook counts one inbound webhook.
func (m *Metrics) Webhook(platform, outcome string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(platform, outcome).Inc()
}
