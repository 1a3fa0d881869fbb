package cron

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/paylifecycle/internal/intents"
	"github.com/angelmondragon/paylifecycle/pkg/clock"
	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
)

const (
	defaultPollBatch      = 100
	defaultPollStaleAfter = time.Minute
	pollDispatchFanout    = 8
)

// IntentPollJobParams configure the job that restarts polling for stale pending intents,
// for example after a deploy dropped the in-process pollers.
type IntentPollJobParams struct {
	Logger     *logger.Logger
	Intents    pendingIntentLister
	Dispatcher pollDispatcher
	Clock      clock.Clock
	BatchSize  int
	StaleAfter time.Duration
}

type pendingIntentLister interface {
	ListPending(ctx context.Context, params intents.ListPendingParams) ([]models.PaymentIntent, error)
}

type pollDispatcher interface {
	Dispatch(ctx context.Context, intentID uuid.UUID) (bool, error)
}

func NewIntentPollJob(params IntentPollJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent store required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("poll dispatcher required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPollBatch
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultPollStaleAfter
	}
	return &intentPollJob{
		logg:       params.Logger,
		intents:    params.Intents,
		dispatcher: params.Dispatcher,
		clock:      clk,
		batch:      batch,
		staleAfter: staleAfter,
	}, nil
}

type intentPollJob struct {
	logg       *logger.Logger
	intents    pendingIntentLister
	dispatcher pollDispatcher
	clock      clock.Clock
	batch      int
	staleAfter time.Duration
}

func (j *intentPollJob) Name() string { return "intent-poll" }

func (j *intentPollJob) Run(ctx context.Context) error {
	now := j.clock.Now().UTC()
	cutoff := now.Add(-j.staleAfter)
	stale, err := j.intents.ListPending(ctx, intents.ListPendingParams{
		CheckedBefore: &cutoff,
		Limit:         j.batch,
	})
	if err != nil {
		return fmt.Errorf("query stale intents: %w", err)
	}

	var (
		started atomic.Int64
		errs    = make([]error, len(stale))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pollDispatchFanout)
	for i, intent := range stale {
		if intent.ExpiresAt != nil && !intent.ExpiresAt.After(now) {
			// the expiry sweep settles these
			continue
		}
		g.Go(func() error {
			ok, err := j.dispatcher.Dispatch(gctx, intent.ID)
			if err != nil {
				errs[i] = fmt.Errorf("dispatch intent %s: %w", intent.ID, err)
				return nil
			}
			if ok {
				started.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	combined := multierr.Combine(errs...)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(stale),
		"started":    started.Load(),
		"failed":     len(multierr.Errors(combined)),
	})
	j.logg.Info(logCtx, "intent poll dispatch complete")
	return combined
}
