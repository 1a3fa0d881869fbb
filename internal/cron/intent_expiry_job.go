package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/paylifecycle/internal/intents"
	"github.com/angelmondragon/paylifecycle/pkg/clock"
	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
)

const defaultExpiryBatch = 200

// IntentExpiryJobParams configure the sweep that expires pending intents past their deadline.
type IntentExpiryJobParams struct {
	Logger    *logger.Logger
	Intents   intentExpirer
	Clock     clock.Clock
	BatchSize int
}

type intentExpirer interface {
	ListPending(ctx context.Context, params intents.ListPendingParams) ([]models.PaymentIntent, error)
	ExpireIfDue(ctx context.Context, id uuid.UUID, now time.Time) (*models.PaymentIntent, bool, error)
}

func NewIntentExpiryJob(params IntentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent store required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &intentExpiryJob{
		logg:    params.Logger,
		intents: params.Intents,
		clock:   clk,
		batch:   batch,
	}, nil
}

type intentExpiryJob struct {
	logg    *logger.Logger
	intents intentExpirer
	clock   clock.Clock
	batch   int
}

func (j *intentExpiryJob) Name() string { return "intent-expiry" }

// Run expires one batch of overdue intents. Failures on individual intents do not stop the
// sweep; they are combined into the returned error.
func (j *intentExpiryJob) Run(ctx context.Context) error {
	now := j.clock.Now().UTC()
	pending, err := j.intents.ListPending(ctx, intents.ListPendingParams{
		ExpiresBefore: &now,
		Limit:         j.batch,
	})
	if err != nil {
		return fmt.Errorf("query overdue intents: %w", err)
	}

	var errs error
	expired := 0
	for _, intent := range pending {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		_, changed, err := j.intents.ExpireIfDue(ctx, intent.ID, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire intent %s: %w", intent.ID, err))
			continue
		}
		if changed {
			expired++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(pending),
		"expired":    expired,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "intent expiry sweep complete")
	return errs
}
