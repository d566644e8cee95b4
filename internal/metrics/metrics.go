package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActionDuration *prometheus.HistogramVec

	ActionsTotal *prometheus.CounterVec

	RollbacksTotal *prometheus.CounterVec

	QuotaDenialsTotal *prometheus.CounterVec

	TokensTotal *prometheus.CounterVec

	AuditBufferFill prometheus.Gauge
}

// NewMetrics registers all collectors on reg. A nil registerer yields a
// working but unexported set, which keeps tests and library callers from
// having to care about metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ActionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentline_action_duration_seconds",
			Help:    "Histogram of governed action latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action_type", "target_type", "status"}),

		ActionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentline_actions_total",
			Help: "Total number of governed actions by type and outcome.",
		}, []string{"action_type", "status"}),

		RollbacksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentline_rollbacks_total",
			Help: "Total number of rollback attempts by outcome.",
		}, []string{"status"}),

		QuotaDenialsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentline_quota_denials_total",
			Help: "Total number of requests denied by the daily quota.",
		}, []string{"reason"}),

		TokensTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentline_tokens_total",
			Help: "Total tokens consumed by direction.",
		}, []string{"direction"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentline_audit_buffer_entries",
			Help: "Current number of entries in the in-memory audit buffer.",
		}),
	}
}
