package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequest(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveRequest("POST", "/api/sos", 201, 20*time.Millisecond)
	m.ObserveRequest("POST", "/api/sos", 201, 30*time.Millisecond)
	m.ObserveRequest("POST", "/api/sos", 503, 5*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/api/sos", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/api/sos", "503")))
}
