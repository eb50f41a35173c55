// Package metrics instruments the outbox relay. A nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// stageFailed labels failures that happen before an entry is known.
const stageFailed = "poll"

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

type Metrics struct {
	pending   prometheus.Gauge
	published *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   prometheus.Histogram
	batch     prometheus.Histogram
	poll      prometheus.Histogram
	purged    prometheus.Counter
}

// New registers the relay metrics with the default registry. Call once per process.
func New() *Metrics {
	return &Metrics{
		pending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parcelproof_outbox_pending",
			Help: "Settlement instructions written but not yet relayed.",
		}),
		published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_outbox_published_total",
			Help: "Outbox entries relayed to Kafka and marked processed.",
		}, []string{"event_type"}),
		failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_outbox_failures_total",
			Help: "Outbox relay failures by event type; poll failures use event_type=poll.",
		}, []string{"event_type"}),
		latency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parcelproof_outbox_publish_duration_seconds",
			Help:    "Produce latency for one outbox entry.",
			Buckets: latencyBuckets,
		}),
		batch: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parcelproof_outbox_batch_size",
			Help:    "Entries fetched per poll.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		poll: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parcelproof_outbox_poll_duration_seconds",
			Help:    "Wall time of a non-empty poll cycle.",
			Buckets: latencyBuckets,
		}),
		purged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parcelproof_outbox_purged_total",
			Help: "Processed entries removed by retention.",
		}),
	}
}

func (m *Metrics) SetPending(n int64) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Metrics) Published(eventType string, took time.Duration) {
	if m != nil {
		m.published.WithLabelValues(eventType).Inc()
		m.latency.Observe(took.Seconds())
	}
}

// Failed counts a relay failure for eventType, or a poll failure when empty.
func (m *Metrics) Failed(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = stageFailed
	}
	m.failures.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Polled(batch int, took time.Duration) {
	if m != nil {
		m.batch.Observe(float64(batch))
		m.poll.Observe(took.Seconds())
	}
}

func (m *Metrics) Purged(n int64) {
	if m != nil {
		m.purged.Add(float64(n))
	}
}
