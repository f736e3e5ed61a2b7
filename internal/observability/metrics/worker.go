package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evidence",
			Subsystem: "worker",
			Name:      "requests_total",
			Help:      "Total answer requests handled by outcome.",
		},
		[]string{"service", "outcome"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evidence",
			Subsystem: "worker",
			Name:      "request_duration_seconds",
			Help:      "Answer request handling duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(requestTotal, requestDuration)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one handled queue request.
func (m *WorkerMetrics) ObserveRequest(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.requestTotal.WithLabelValues(m.service, outcome).Inc()
	m.requestDuration.WithLabelValues(m.service, outcome).Observe(duration.Seconds())
}
