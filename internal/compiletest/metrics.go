package compiletest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks compile outcomes. A nil Registerer leaves them unregistered.
type Metrics struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
	inFlight prometheus.Gauge
}

func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		outcomes: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "formulary_compile_tests_total",
			Help: "Compile tests by result.",
		}, []string{"result"}),
		duration: promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Name:    "formulary_compile_duration_seconds",
			Help:    "Wall-clock time of compile tests and builds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		inFlight: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "formulary_compile_in_flight",
			Help: "Compiles currently holding a slot.",
		}),
	}
}

func (m *Metrics) observe(o Outcome) {
	result := "success"
	if !o.Success {
		result = string(o.Reason)
	}
	m.outcomes.WithLabelValues(result).Inc()
	m.duration.Observe(o.Elapsed.Seconds())
}
