package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for subject registration and login.
type Metrics struct {
	Registrations   prometheus.Counter
	Logins          *prometheus.CounterVec
	NoncesIssued    prometheus.Counter
	LocationUpdates prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Registrations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_subjects_registered_total",
			Help: "Total number of subjects registered",
		}),
		Logins: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_subject_logins_total",
			Help: "Signed-nonce login attempts by outcome",
		}, []string{"outcome"}),
		NoncesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_login_nonces_issued_total",
			Help: "Total number of login challenges issued",
		}),
		LocationUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_subject_location_updates_total",
			Help: "Total number of live location reports accepted",
		}),
	}
}
