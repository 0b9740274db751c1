package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks verification outcomes and ledger RPC health.
type Metrics struct {
	Verifications  *prometheus.CounterVec
	VerifyDuration prometheus.Histogram
	RPCRetries     prometheus.Counter
	BreakerOpen    prometheus.Gauge
}

// NewMetrics registers ledger metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_ledger_verifications_total",
			Help: "Ledger anchor verifications by outcome",
		}, []string{"outcome"}),
		VerifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_ledger_verify_duration_seconds",
			Help:    "Duration of ledger anchor verification including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		RPCRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_ledger_rpc_retries_total",
			Help: "Ledger RPC attempts that were retried after a transient failure",
		}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_ledger_breaker_open",
			Help: "1 while the ledger circuit breaker is open",
		}),
	}
}

func (m *Metrics) observeVerify(start time.Time, outcome string) {
	if m == nil {
		return
	}
	m.VerifyDuration.Observe(time.Since(start).Seconds())
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incRetry() {
	if m == nil {
		return
	}
	m.RPCRetries.Inc()
}

func (m *Metrics) setBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
