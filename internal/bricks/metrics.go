package bricks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	ops     *prometheus.CounterVec
	handles prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &metrics{
		ops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brickd_operations_total",
			Help: "Producing operations by name and outcome.",
		}, []string{"op", "status"}),
		handles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "brickd_handles_live",
			Help: "Live entries in the handle table.",
		}),
	}
}

func (m *metrics) record(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ops.WithLabelValues(op, status).Inc()
}
