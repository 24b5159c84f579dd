package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts executions and tracks registry size. A nil Registerer
// creates unregistered collectors, which is what tests use.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	formulas   prometheus.Gauge
}

func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		executions: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "formulary_executions_total",
			Help: "Formula executions by outcome.",
		}, []string{"formula", "outcome"}),
		duration: promauto.With(r).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formulary_execution_duration_seconds",
			Help:    "Wall-clock time of formula executions, including rejected ones.",
			Buckets: prometheus.DefBuckets,
		}, []string{"formula"}),
		formulas: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "formulary_registered_formulas",
			Help: "Number of formulas currently registered.",
		}),
	}
}
