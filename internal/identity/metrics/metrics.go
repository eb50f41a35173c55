package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for identity key management.
type Metrics struct {
	IdentitiesCreated   *prometheus.CounterVec
	IdentitiesDeleted   prometheus.Counter
	DegradedKeyStorage  prometheus.Counter
	SignerUnavailable   *prometheus.CounterVec
	PublicKeyResolution *prometheus.CounterVec
}

// New registers and returns identity metrics collectors.
func New() *Metrics {
	return &Metrics{
		IdentitiesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_identities_created_total",
			Help: "Total number of identity keypairs generated, labeled by storage kind",
		}, []string{"storage"}),
		IdentitiesDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parcelproof_identities_deleted_total",
			Help: "Total number of identities deleted on user request",
		}),
		DegradedKeyStorage: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parcelproof_key_storage_degraded_total",
			Help: "Total number of keys written to the unencrypted software fallback vault",
		}),
		SignerUnavailable: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_signer_unavailable_total",
			Help: "Total number of signing key lookups that failed, labeled by cause",
		}, []string{"cause"}),
		PublicKeyResolution: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelproof_public_key_resolutions_total",
			Help: "Total number of DID to public key resolutions, labeled by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementIdentitiesCreated(storage string) {
	m.IdentitiesCreated.WithLabelValues(storage).Inc()
}

func (m *Metrics) IncrementIdentitiesDeleted() {
	m.IdentitiesDeleted.Inc()
}

func (m *Metrics) IncrementDegradedKeyStorage() {
	m.DegradedKeyStorage.Inc()
}

func (m *Metrics) IncrementSignerUnavailable(cause string) {
	m.SignerUnavailable.WithLabelValues(cause).Inc()
}

func (m *Metrics) IncrementPublicKeyResolution(result string) {
	m.PublicKeyResolution.WithLabelValues(result).Inc()
}
