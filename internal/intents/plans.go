package intents

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/paylifecycle/pkg/db/models"
)

// PlanProvisioner mints the plan id recorded when an intent is approved and the
// observation did not carry one.
type PlanProvisioner interface {
	ProvisionPlan(ctx context.Context, intent *models.PaymentIntent) (string, error)
}

// PlanProvisionerFunc adapts a function to PlanProvisioner.
type PlanProvisionerFunc func(ctx context.Context, intent *models.PaymentIntent) (string, error)

func (f PlanProvisionerFunc) ProvisionPlan(ctx context.Context, intent *models.PaymentIntent) (string, error) {
	return f(ctx, intent)
}

type uuidPlanProvisioner struct{}

func (uuidPlanProvisioner) ProvisionPlan(context.Context, *models.PaymentIntent) (string, error) {
	return "plan_" + uuid.NewString(), nil
}
