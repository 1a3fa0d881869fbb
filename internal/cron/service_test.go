package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paylifecycle/pkg/clock"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/metrics"
)

type fakeLock struct {
	mu       sync.Mutex
	held     bool
	releases int
	// releaseCtxErr records whether Release saw a canceled context
	releaseCtxErr error
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	f.releases++
	f.releaseCtxErr = ctx.Err()
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
	run  func(ctx context.Context) error
}

func (j *testJob) Name() string { return j.name }

func (j *testJob) Run(ctx context.Context) error {
	j.runs++
	if j.run != nil {
		return j.run(ctx)
	}
	return j.err
}

func newTestService(t *testing.T, params ServiceParams) *Service {
	t.Helper()
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Lock == nil {
		params.Lock = &fakeLock{}
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return svc
}

func TestRunCycleRunsEveryJobEvenAfterFailure(t *testing.T) {
	ok := &testJob{name: "intent-expiry", err: errors.New("boom")}
	next := &testJob{name: "intent-poll"}
	lock := &fakeLock{}
	svc := newTestService(t, ServiceParams{Registry: NewRegistry(ok, next), Lock: lock})

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, next.runs)
	assert.Equal(t, 1, lock.releases)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := &testJob{name: "intent-expiry"}
	svc := newTestService(t, ServiceParams{
		Registry: NewRegistry(job),
		Lock:     &fakeLock{held: true},
		Metrics:  metrics.NewCronJobMetrics(reg),
	})

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Zero(t, job.runs)
	n, err := testutil.GatherAndCount(reg, "paylifecycle_cron_cycles_skipped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunCycleRecordsJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := newTestService(t, ServiceParams{
		Registry: NewRegistry(&testJob{name: "intent-poll"}, &testJob{name: "intent-expiry", err: errors.New("db down")}),
		Metrics:  metrics.NewCronJobMetrics(reg),
		Clock:    clock.NewFake(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
	})

	require.NoError(t, svc.runCycle(context.Background()))
	n, err := testutil.GatherAndCount(reg, "paylifecycle_cron_job_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one success and one failure series")
	n, err = testutil.GatherAndCount(reg, "paylifecycle_cron_job_last_success_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the successful job reports a last success")
}

func TestRunCycleStopsOnCanceledContext(t *testing.T) {
	job := &testJob{name: "intent-poll"}
	svc := newTestService(t, ServiceParams{Registry: NewRegistry(job)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.runCycle(ctx), context.Canceled)
	assert.Zero(t, job.runs)
}

func TestRunCycleReleasesLockAfterCancellationMidCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &testJob{name: "intent-expiry", run: func(context.Context) error {
		cancel()
		return nil
	}}
	second := &testJob{name: "intent-poll"}
	lock := &fakeLock{}
	svc := newTestService(t, ServiceParams{Registry: NewRegistry(first, second), Lock: lock})

	assert.ErrorIs(t, svc.runCycle(ctx), context.Canceled)
	assert.Zero(t, second.runs)
	assert.Equal(t, 1, lock.releases)
	assert.NoError(t, lock.releaseCtxErr)
}

func TestRunJobAppliesTimeout(t *testing.T) {
	var deadlineSet bool
	job := &testJob{name: "outbox-retention", run: func(ctx context.Context) error {
		_, deadlineSet = ctx.Deadline()
		return nil
	}}
	svc := newTestService(t, ServiceParams{Registry: NewRegistry(job), JobTimeout: time.Minute})

	require.NoError(t, svc.runCycle(context.Background()))
	assert.True(t, deadlineSet)
}

func TestRunTicksOnClockInterval(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	job := &testJob{name: "intent-expiry"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	waits := 0
	fake.OnWait(func(time.Time) {
		waits++
		if waits == 3 {
			cancel()
		}
	})
	svc := newTestService(t, ServiceParams{Registry: NewRegistry(job), Clock: fake, Interval: 30 * time.Second})

	assert.ErrorIs(t, svc.Run(ctx), context.Canceled)
	assert.Equal(t, 3, job.runs)
	for _, d := range fake.Sleeps() {
		assert.Equal(t, 30*time.Second, d)
	}
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.Nop()})
	assert.Error(t, err, "lock required")

	_, err = NewService(ServiceParams{Logger: logger.Nop(), Lock: &fakeLock{}, JobTimeout: -time.Second})
	assert.Error(t, err)

	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Lock: &fakeLock{}})
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, svc.interval)
}
