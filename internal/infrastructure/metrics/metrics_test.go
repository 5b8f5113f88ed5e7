package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Appended()
		m.Published("ok")
		m.SetOutboxDepth(3)
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Appended()
	m.Appended()
	m.Notified("push", "error")
	m.SetOutboxDepth(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesAppended))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationResults.WithLabelValues("push", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.OutboxDepth))
}
