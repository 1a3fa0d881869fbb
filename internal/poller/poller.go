package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paylifecycle/internal/gateway"
	"github.com/angelmondragon/paylifecycle/internal/intents"
	"github.com/angelmondragon/paylifecycle/pkg/clock"
	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	"github.com/angelmondragon/paylifecycle/pkg/enums"
	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/metrics"
)

const observationSource = "poller"

var (
	// ErrPollingTimedOut signals the bound was reached while the intent is still pending.
	ErrPollingTimedOut = errors.New("polling bound reached with intent still pending")
	// ErrGatewayUnavailable is wrapped when no attempt produced a usable gateway response.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Outcome classifies how a polling run ended.
type Outcome string

const (
	OutcomeSettled            Outcome = "settled"
	OutcomeTimedOut           Outcome = "timed_out"
	OutcomeGatewayUnavailable Outcome = "gateway_unavailable"
	OutcomeCanceled           Outcome = "canceled"
)

// Result summarizes one polling run.
type Result struct {
	IntentID uuid.UUID
	Outcome  Outcome
	Status   enums.PaymentStatus
	Attempts int
	Failures int
	Elapsed  time.Duration
}

// Err returns ErrPollingTimedOut for timed out runs so callers can treat the signal like an error.
func (r Result) Err() error {
	if r.Outcome == OutcomeTimedOut {
		return ErrPollingTimedOut
	}
	return nil
}

type intentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	ApplyObservedStatus(ctx context.Context, id uuid.UUID, obs intents.Observation, now time.Time) (*models.PaymentIntent, error)
	RecordCheck(ctx context.Context, id uuid.UUID, now time.Time) error
	ExpireIfDue(ctx context.Context, id uuid.UUID, now time.Time) (*models.PaymentIntent, bool, error)
}

// Params wires the poller.
type Params struct {
	Store    intentStore
	Gateways gateway.Resolver
	Clock    clock.Clock
	Metrics  *metrics.PollerMetrics
	Logger   *logger.Logger
}

// Poller drives one pending intent toward a terminal state.
type Poller struct {
	store    intentStore
	gateways gateway.Resolver
	clock    clock.Clock
	metrics  *metrics.PollerMetrics
	logg     *logger.Logger
}

func New(params Params) (*Poller, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("intent store required")
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway resolver required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Poller{
		store:    params.Store,
		gateways: params.Gateways,
		clock:    clk,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// Run polls the gateway until the intent settles, the schedule's bound is reached, or ctx is
// canceled. Cancellation is checked between ticks and never forces a transition.
func (p *Poller) Run(ctx context.Context, intentID uuid.UUID, schedule Schedule) (Result, error) {
	done := p.metrics.Started()
	defer done()

	schedule = schedule.normalized()
	start := p.clock.Now()
	result := Result{IntentID: intentID}
	logCtx := p.logg.WithIntentID(ctx, intentID.String())

	finish := func(outcome Outcome, status enums.PaymentStatus, err error) (Result, error) {
		result.Outcome = outcome
		result.Status = status
		result.Elapsed = p.clock.Now().Sub(start)
		p.metrics.ObserveOutcome(string(outcome))
		fields := map[string]any{
			"outcome":  outcome,
			"status":   status,
			"attempts": result.Attempts,
			"failures": result.Failures,
		}
		switch outcome {
		case OutcomeGatewayUnavailable:
			p.logg.Error(p.logg.WithFields(logCtx, fields), "polling gave up, gateway unavailable", err)
		case OutcomeCanceled:
			p.logg.Debug(p.logg.WithFields(logCtx, fields), "polling canceled")
		default:
			p.logg.Info(p.logg.WithFields(logCtx, fields), "polling finished")
		}
		return result, err
	}

	intent, err := p.store.Get(ctx, intentID)
	if err != nil {
		return result, err
	}
	if intent.Status.IsTerminal() {
		return finish(OutcomeSettled, intent.Status, nil)
	}
	querier, err := p.gateways.Querier(intent.Gateway)
	if err != nil {
		return result, err
	}
	logCtx = p.logg.WithGateway(logCtx, string(intent.Gateway))

	wait := schedule.backOff()
	var lastErr error
	// failures since the last usable gateway response
	consecutiveFailures := 0
	for {
		if err := ctx.Err(); err != nil {
			return finish(OutcomeCanceled, intent.Status, err)
		}

		result.Attempts++
		now := p.clock.Now()
		report, queryErr := querier.QueryStatus(ctx, intent.PreferenceID)
		p.metrics.ObserveAttempt(string(intent.Gateway), queryErr == nil)

		if queryErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish(OutcomeCanceled, intent.Status, ctxErr)
			}
			result.Failures++
			consecutiveFailures++
			lastErr = queryErr
			p.logg.Warn(p.logg.WithFields(logCtx, map[string]any{
				"attempt": result.Attempts,
				"error":   queryErr.Error(),
			}), "gateway status query failed")
			if err := p.store.RecordCheck(ctx, intentID, now); err != nil {
				return result, err
			}
		} else {
			consecutiveFailures = 0
			updated, err := p.store.ApplyObservedStatus(ctx, intentID, intents.Observation{
				RawStatus:         report.RawStatus,
				ExternalPaymentID: report.ExternalPaymentID,
				Source:            observationSource,
			}, now)
			switch {
			case err == nil:
				intent = updated
			case pkgerrors.HasCode(err, pkgerrors.CodeStateConflict):
				// Another writer settled the intent first.
				current, getErr := p.store.Get(ctx, intentID)
				if getErr != nil {
					return result, getErr
				}
				intent = current
			default:
				return result, err
			}
			if intent.Status.IsTerminal() {
				return finish(OutcomeSettled, intent.Status, nil)
			}
		}

		if schedule.attemptsExhausted(result.Attempts) {
			break
		}
		next := wait.NextBackOff()
		if schedule.exceedsDuration(p.clock.Now().Sub(start), next) {
			break
		}
		select {
		case <-ctx.Done():
			return finish(OutcomeCanceled, intent.Status, ctx.Err())
		case <-p.clock.After(next):
		}
	}

	expired, forced, err := p.store.ExpireIfDue(ctx, intentID, p.clock.Now())
	if err != nil {
		return result, err
	}
	if forced || expired.Status.IsTerminal() {
		return finish(OutcomeSettled, expired.Status, nil)
	}
	if consecutiveFailures > 0 {
		cause := fmt.Errorf("%w after %d failed attempts: %v", ErrGatewayUnavailable, consecutiveFailures, lastErr)
		return finish(OutcomeGatewayUnavailable, expired.Status, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, cause, "payment gateway unavailable"))
	}
	return finish(OutcomeTimedOut, expired.Status, nil)
}
