package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics tracks the outbox publisher.
type OutboxMetrics struct {
	delivered    *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	batches      prometheus.Histogram
}

// NewOutboxMetrics registers the publisher metrics on reg. A nil registerer
// yields a no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_total",
			Help:      "Outbox publish attempts by topic and result.",
		}, []string{"topic", "result"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "dead_letters_total",
			Help:      "Outbox rows moved to the dead letter table by reason.",
		}, []string{"reason"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "batch_duration_seconds",
			Help:      "Time spent draining one outbox batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.delivered, m.deadLettered, m.batches)
	return m
}

// ObservePublish counts one publish attempt.
func (o *OutboxMetrics) ObservePublish(topic string, err error) {
	if o == nil || o.delivered == nil {
		return
	}
	result := "published"
	if err != nil {
		result = "failed"
	}
	o.delivered.WithLabelValues(normalizeLabel(topic), result).Inc()
}

// ObserveDeadLetter counts a row given up on.
func (o *OutboxMetrics) ObserveDeadLetter(reason string) {
	if o == nil || o.deadLettered == nil {
		return
	}
	o.deadLettered.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveBatch records how long a non-empty batch took.
func (o *OutboxMetrics) ObserveBatch(took time.Duration) {
	if o == nil || o.batches == nil {
		return
	}
	o.batches.Observe(took.Seconds())
}
