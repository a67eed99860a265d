package zap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess    = "success"
	outcomeDegenerate = "degenerate"
	outcomeSlippage   = "slippage"
	outcomeError      = "error"
)

// Metrics holds the orchestrator's Prometheus collectors.
type Metrics struct {
	deposits        *prometheus.CounterVec
	depositDuration *prometheus.HistogramVec
	slippageAborts  prometheus.Counter
}

// NewMetrics registers the orchestrator's collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		deposits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zap_deposits_total",
			Help: "Single-sided deposits by path and outcome.",
		}, []string{"path", "outcome"}),
		depositDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zap_deposit_duration_seconds",
			Help:    "Wall time of a deposit from snapshot to refund.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		slippageAborts: factory.NewCounter(prometheus.CounterOpts{
			Name: "zap_slippage_aborts_total",
			Help: "Deposits aborted because the swap output fell below the slippage bound.",
		}),
	}
}
