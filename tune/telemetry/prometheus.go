package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposes observations as gauges: one vector labeled by
// observation key holding the most recent value, and a plain gauge tracking
// the most recent step. Gauges rather than counters because search scalars
// (budgets, rates, metrics) move in both directions.
type Prometheus struct {
	scalars *prometheus.GaugeVec
	step    prometheus.Gauge
}

// NewPrometheus builds the sink and registers its collectors with reg.
// Registering the same sink twice on one registerer panics, as usual for
// client_golang.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		scalars: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "compression_search_scalar",
			Help: "Most recent scalar reported by the compression-rate search, by observation key",
		}, []string{"key"}),
		step: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "compression_search_step",
			Help: "Cumulative training epoch of the most recent observation",
		}),
	}
	reg.MustRegister(p.scalars, p.step)
	return p
}

// Record sets the gauge for key to value and advances the step gauge.
func (p *Prometheus) Record(key string, value float64, step int) {
	p.scalars.WithLabelValues(key).Set(value)
	p.step.Set(float64(step))
}
