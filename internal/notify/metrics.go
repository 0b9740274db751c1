package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Sessions  prometheus.Gauge
	Published *prometheus.CounterVec
	Evictions prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_notifier_sessions",
			Help: "Operator sessions currently subscribed",
		}),
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_notifier_messages_published_total",
			Help: "Messages handed to the hub, by type",
		}, []string{"type"}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_notifier_sessions_evicted_total",
			Help: "Sessions disconnected because their send buffer was full",
		}),
	}
}
