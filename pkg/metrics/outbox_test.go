package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOutboxMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.ObservePublish("payment-intent-events", nil)
	m.ObservePublish("payment-intent-events", errors.New("unavailable"))
	m.ObservePublish("", nil)
	m.ObserveDeadLetter("max_attempts")
	m.ObserveBatch(120 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.delivered.WithLabelValues("payment-intent-events", "published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.delivered.WithLabelValues("payment-intent-events", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.delivered.WithLabelValues("unknown", "published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deadLettered.WithLabelValues("max_attempts")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batches))
}

func TestOutboxMetricsNilSafe(t *testing.T) {
	var m *OutboxMetrics
	m.ObservePublish("topic", nil)
	m.ObserveDeadLetter("unroutable")
	m.ObserveBatch(time.Second)

	NewOutboxMetrics(nil).ObservePublish("topic", nil)
}
