package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the incident module.
type Metrics struct {
	IncidentsCreated  prometheus.Counter
	IncidentsRejected *prometheus.CounterVec
	IncidentsResolved prometheus.Counter
	Decryptions       *prometheus.CounterVec
	SubmitDuration    prometheus.Histogram
	DecryptDuration   prometheus.Histogram
}

// New creates a new Metrics instance with all incident metrics registered.
func New() *Metrics {
	return &Metrics{
		IncidentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_incidents_created_total",
			Help: "Total number of incidents accepted after ledger verification",
		}),
		IncidentsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_incidents_rejected_total",
			Help: "Submissions rejected, by error code",
		}, []string{"code"}),
		IncidentsResolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_incidents_resolved_total",
			Help: "Total number of incidents moved to resolved",
		}),
		Decryptions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_incident_decryptions_total",
			Help: "Decryption attempts by outcome",
		}, []string{"outcome"}),
		SubmitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_incident_submit_duration_seconds",
			Help:    "Duration of incident submission including ledger verification",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		DecryptDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_incident_decrypt_duration_seconds",
			Help:    "Duration of gated decryption",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

// ObserveSubmit records the duration of a submission.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSubmit(start time.Time) {
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

// ObserveDecrypt records the duration of a decryption.
func (m *Metrics) ObserveDecrypt(start time.Time) {
	m.DecryptDuration.Observe(time.Since(start).Seconds())
}
