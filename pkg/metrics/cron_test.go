package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	finished := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	m.ObserveRun("intent-expiry", 250*time.Millisecond, nil, finished)
	m.ObserveRun("intent-expiry", time.Second, errors.New("db down"), finished.Add(time.Minute))
	m.ObserveRun("", time.Millisecond, nil, finished)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("intent-expiry", "success")); got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("intent-expiry", "failure")); got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}
	if got := testutil.ToFloat64(m.lastSuccess.WithLabelValues("intent-expiry")); got != float64(finished.Unix()) {
		t.Fatalf("failed run must not move last success, got %f", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("unknown", "success")); got != 1 {
		t.Fatalf("expected unnamed job under unknown label, got %f", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if sum := histogramSum(mfs, "paylifecycle_cron_job_duration_seconds", "intent-expiry"); sum != 1.25 {
		t.Fatalf("expected duration sum 1.25, got %f", sum)
	}
}

func TestCronJobMetricsSkipped(t *testing.T) {
	m := NewCronJobMetrics(prometheus.NewRegistry())
	m.IncSkipped()
	m.IncSkipped()
	if got := testutil.ToFloat64(m.skipped); got != 2 {
		t.Fatalf("expected 2 skipped cycles, got %f", got)
	}
}

func TestNilCronMetricsAreSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("job", time.Second, nil, time.Now())
	m.IncSkipped()

	unregistered := NewCronJobMetrics(nil)
	unregistered.ObserveRun("job", time.Second, errors.New("x"), time.Now())
	unregistered.IncSkipped()
}

func histogramSum(mfs []*dto.MetricFamily, name, job string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return metric.GetHistogram().GetSampleSum()
				}
			}
		}
	}
	return -1
}
