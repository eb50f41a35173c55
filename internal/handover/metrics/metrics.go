package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for handover attempts.
type Metrics struct {
	Attempts     *prometheus.CounterVec
	Rejections   *prometheus.CounterVec
	Transitions  *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	StillTrying  *prometheus.CounterVec
	Overrides    *prometheus.CounterVec
	Settlements  *prometheus.CounterVec
	Distance     *prometheus.HistogramVec
}

// New registers and returns handover metrics collectors.
func New() *Metrics {
	return &Metrics{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_handover_attempts_total",
			Help: "Total number of finished handover attempts, labeled by kind and terminal state",
		}, []string{"kind", "state"}),
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_handover_rejections_total",
			Help: "Total number of rejected handover attempts, labeled by kind and reason",
		}, []string{"kind", "reason"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_handover_transitions_total",
			Help: "Total number of state transitions, labeled by kind and target state",
		}, []string{"kind", "to"}),
		StepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parcelproof_handover_step_duration_seconds",
			Help:    "Duration of waiting handover steps",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20, 30},
		}, []string{"step"}),
		StillTrying: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_handover_still_trying_total",
			Help: "Total number of steps that exceeded the still-trying threshold",
		}, []string{"step"}),
		Overrides: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_handover_overrides_total",
			Help: "Total number of records persisted with a proximity override",
		}, []string{"kind"}),
		Settlements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_settlements_emitted_total",
			Help: "Total number of settlement instructions emitted, labeled by auto verification",
		}, []string{"auto_verified"}),
		Distance: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parcelproof_handover_distance_meters",
			Help:    "Distance between observed and expected location at signing time",
			Buckets: []float64{5, 10, 25, 50, 75, 100, 250, 500, 1000, 5000},
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncrementAttempt(kind, state string) {
	m.Attempts.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) IncrementRejection(kind, reason string) {
	m.Rejections.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) IncrementTransition(kind, to string) {
	m.Transitions.WithLabelValues(kind, to).Inc()
}

func (m *Metrics) ObserveStep(step string, d time.Duration) {
	m.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) IncrementStillTrying(step string) {
	m.StillTrying.WithLabelValues(step).Inc()
}

func (m *Metrics) IncrementOverride(kind string) {
	m.Overrides.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementSettlement(autoVerified bool) {
	label := "false"
	if autoVerified {
		label = "true"
	}
	m.Settlements.WithLabelValues(label).Inc()
}

func (m *Metrics) ObserveDistance(kind string, meters float64) {
	m.Distance.WithLabelValues(kind).Observe(meters)
}
