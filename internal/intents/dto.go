package intents

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	"github.com/angelmondragon/paylifecycle/pkg/enums"
)

var (
	// ErrNotFound is wrapped when no intent matches the lookup.
	ErrNotFound = errors.New("payment intent not found")
	// ErrDuplicatePreference is wrapped when a preference already backs another intent.
	ErrDuplicatePreference = errors.New("payment intent already exists for preference")
)

// CreateParams carries the immutable fields of a new intent.
type CreateParams struct {
	PreferenceID  string
	Amount        decimal.Decimal
	Currency      string
	ExpiresAt     *time.Time
	PaymentMethod *enums.PaymentMethod
	BankCode      *string
	Gateway       enums.Gateway
}

// Observation is one status report from the poller or an external push.
type Observation struct {
	RawStatus         string
	ExternalPaymentID *string
	// PlanID, when set, becomes the created plan id on approval.
	PlanID *string
	// Source names the reporting path for logs and events.
	Source string
}

// StatusView is the read-only projection served to callers.
type StatusView struct {
	ID                uuid.UUID            `json:"id"`
	Status            enums.PaymentStatus  `json:"status"`
	PaymentMethod     *enums.PaymentMethod `json:"payment_method,omitempty"`
	BankCode          *string              `json:"bank_code,omitempty"`
	ExpiresAt         *time.Time           `json:"expires_at,omitempty"`
	Amount            *decimal.Decimal     `json:"amount,omitempty"`
	Currency          *string              `json:"currency,omitempty"`
	CreatedPlanID     *string              `json:"created_plan_id,omitempty"`
	LastStatusCheckAt *time.Time           `json:"last_status_check_at,omitempty"`
	DeadlinePassed    bool                 `json:"deadline_passed"`
}

func newStatusView(intent *models.PaymentIntent, deadlinePassed bool) *StatusView {
	amount := intent.Amount
	currency := intent.Currency
	view := &StatusView{
		ID:                intent.ID,
		Status:            intent.Status,
		PaymentMethod:     intent.PaymentMethod,
		BankCode:          intent.BankCode,
		ExpiresAt:         intent.ExpiresAt,
		Amount:            &amount,
		CreatedPlanID:     intent.CreatedPlanID,
		LastStatusCheckAt: intent.LastStatusCheckAt,
		DeadlinePassed:    deadlinePassed && intent.Status == enums.PaymentStatusPending,
	}
	if currency != "" {
		view.Currency = &currency
	}
	// a pending intent past its deadline reads as what the next observation will make it
	if view.DeadlinePassed {
		view.Status = enums.PaymentStatusExpired
	}
	return view
}
