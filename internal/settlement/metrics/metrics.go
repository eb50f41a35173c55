package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the settlement consumer.
type Metrics struct {
	Received *prometheus.CounterVec
	Released prometheus.Counter
	Amount   prometheus.Counter
}

// New registers and returns settlement consumer collectors.
func New() *Metrics {
	return &Metrics{
		Received: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_settlement_messages_total",
			Help: "Settlement messages consumed, labeled by outcome (released, duplicate, malformed, failed)",
		}, []string{"outcome"}),
		Released: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parcelproof_settlement_releases_total",
			Help: "Payment releases handed to the releaser",
		}),
		Amount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parcelproof_settlement_released_amount_total",
			Help: "Sum of released amounts in minor units",
		}),
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	m.Received.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRelease(amount int64) {
	m.Released.Inc()
	m.Amount.Add(float64(amount))
}
