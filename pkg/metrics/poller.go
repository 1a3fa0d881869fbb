package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PollerMetrics tracks gateway polling.
type PollerMetrics struct {
	attempts *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	inflight prometheus.Gauge
}

// NewPollerMetrics registers the poller metrics on the provided registerer.
func NewPollerMetrics(reg prometheus.Registerer) *PollerMetrics {
	if reg == nil {
		return &PollerMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "attempts_total",
		Help:      "Gateway status queries by gateway and result.",
	}, []string{"gateway", "result"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "runs_total",
		Help:      "Finished polling runs by outcome.",
	}, []string{"outcome"})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "inflight",
		Help:      "Polling runs currently executing.",
	})
	reg.MustRegister(attempts, outcomes, inflight)
	return &PollerMetrics{
		attempts: attempts,
		outcomes: outcomes,
		inflight: inflight,
	}
}

// ObserveAttempt counts one gateway query.
func (p *PollerMetrics) ObserveAttempt(gateway string, ok bool) {
	if p == nil || p.attempts == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	p.attempts.WithLabelValues(normalizeLabel(gateway), result).Inc()
}

// ObserveOutcome counts a finished run.
func (p *PollerMetrics) ObserveOutcome(outcome string) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// Started marks a run as in flight and returns the func that marks it done.
func (p *PollerMetrics) Started() func() {
	if p == nil || p.inflight == nil {
		return func() {}
	}
	p.inflight.Inc()
	return p.inflight.Dec
}
