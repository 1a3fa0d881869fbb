package intents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paylifecycle/pkg/db/models"
)

// Repository defines persistence operations for the payment_intents table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, intent *models.PaymentIntent) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	FindByPreferenceID(ctx context.Context, preferenceID string) (*models.PaymentIntent, error)
	UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListPending(ctx context.Context, params ListPendingParams) ([]models.PaymentIntent, error)
}

// ListPendingParams filters pending intents. Zero-valued filters are ignored.
type ListPendingParams struct {
	// CheckedBefore selects intents never checked or last checked before the cutoff.
	CheckedBefore *time.Time
	// ExpiresBefore selects intents whose deadline is before the cutoff.
	ExpiresBefore *time.Time
	Limit         int
}
