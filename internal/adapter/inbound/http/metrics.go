package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the status listener's Prometheus metrics.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ObservationsTotal *prometheus.CounterVec
	OpenPrompts       prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinelagent",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of status listener requests",
			},
			[]string{"route", "status"}, // status=ok/client_error/server_error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinelagent",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"route"},
		),
		ObservationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinelagent",
				Name:      "observations_received_total",
				Help:      "Observations received from monitors",
			},
			[]string{"kind", "status"}, // status=accepted/rejected/queue_full
		),
		OpenPrompts: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sentinelagent",
				Name:      "access_prompts_open",
				Help:      "Justification prompts waiting for an answer",
			},
		),
	}
}
