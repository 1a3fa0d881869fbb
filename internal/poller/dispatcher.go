package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/redis"
)

const (
	leaseScope         = "poll"
	defaultConcurrency = 16
)

type runner interface {
	Run(ctx context.Context, intentID uuid.UUID, schedule Schedule) (Result, error)
}

// LeaseBackend holds the cross-instance poll leases.
type LeaseBackend interface {
	redis.LeaseStore
	LeaseKey(scope, id string) string
}

// DispatcherParams wires the dispatcher. Leases is optional; without it de-duplication is
// process-local.
type DispatcherParams struct {
	Runner      runner
	Leases      LeaseBackend
	LeaseTTL    time.Duration
	Schedule    Schedule
	Concurrency int64
	Logger      *logger.Logger
}

// Dispatcher runs pollers in the background, at most one per intent and at most Concurrency at
// once.
type Dispatcher struct {
	runner   runner
	leases   LeaseBackend
	leaseTTL time.Duration
	schedule Schedule
	sem      *semaphore.Weighted
	logg     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Runner == nil {
		return nil, fmt.Errorf("poll runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:   params.Runner,
		leases:   params.Leases,
		leaseTTL: params.LeaseTTL,
		schedule: params.Schedule,
		sem:      semaphore.NewWeighted(concurrency),
		logg:     params.Logger,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[uuid.UUID]struct{}),
	}, nil
}

// Dispatch starts a background poll for the intent. It returns false when a poll for the same
// intent is already running here or, with leases configured, on another instance.
func (d *Dispatcher) Dispatch(ctx context.Context, intentID uuid.UUID) (bool, error) {
	if err := d.ctx.Err(); err != nil {
		return false, fmt.Errorf("dispatcher closed: %w", err)
	}
	if !d.claim(intentID) {
		return false, nil
	}

	var lease *redis.Lease
	if d.leases != nil {
		l, err := redis.NewLease(d.leases, d.leases.LeaseKey(leaseScope, intentID.String()), d.leaseTTL)
		if err != nil {
			d.unclaim(intentID)
			return false, err
		}
		ok, err := l.Acquire(ctx)
		if err != nil {
			d.unclaim(intentID)
			return false, err
		}
		if !ok {
			d.unclaim(intentID)
			d.logg.Debug(d.logg.WithIntentID(ctx, intentID.String()), "poll lease held elsewhere")
			return false, nil
		}
		lease = l
	}

	d.wg.Add(1)
	go d.run(intentID, lease)
	return true, nil
}

func (d *Dispatcher) run(intentID uuid.UUID, lease *redis.Lease) {
	defer d.wg.Done()
	defer d.unclaim(intentID)
	logCtx := d.logg.WithIntentID(d.ctx, intentID.String())
	defer func() {
		if lease == nil {
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			d.logg.Error(logCtx, "release poll lease", err)
		}
	}()

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		return
	}
	defer d.sem.Release(1)

	result, err := d.runner.Run(d.ctx, intentID, d.schedule)
	if err != nil && result.Outcome != OutcomeCanceled && result.Outcome != OutcomeGatewayUnavailable {
		d.logg.Error(logCtx, "poll run failed", err)
	}
}

// Inflight reports whether a poll for the intent is running in this process.
func (d *Dispatcher) Inflight(intentID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[intentID]
	return ok
}

// Wait blocks until every dispatched poll has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels running polls and waits for them to stop.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) claim(intentID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[intentID]; ok {
		return false
	}
	d.inflight[intentID] = struct{}{}
	return true
}

func (d *Dispatcher) unclaim(intentID uuid.UUID) {
	d.mu.Lock()
	delete(d.inflight, intentID)
	d.mu.Unlock()
}
