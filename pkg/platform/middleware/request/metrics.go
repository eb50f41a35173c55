package request

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Latency  *prometheus.HistogramVec
	Requests *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parcelproof_http_request_duration_seconds",
			Help:    "Latency of HTTP requests, labeled by route pattern",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route"}),
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_http_requests_total",
			Help: "HTTP requests, labeled by route pattern and status class",
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) Observe(method, route string, status int, durationSeconds float64) {
	m.Latency.WithLabelValues(method, route).Observe(durationSeconds)
	m.Requests.WithLabelValues(method, route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
