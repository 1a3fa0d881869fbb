package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paylifecycle/pkg/enums"
)

// PaymentIntentStatusChangedEvent is emitted whenever an intent moves to a new state.
type PaymentIntentStatusChangedEvent struct {
	IntentID          uuid.UUID           `json:"intent_id"`
	PreferenceID      string              `json:"preference_id"`
	Gateway           enums.Gateway       `json:"gateway"`
	From              enums.PaymentStatus `json:"from"`
	To                enums.PaymentStatus `json:"to"`
	ObservedStatus    string              `json:"observed_status,omitempty"`
	ExternalPaymentID *string             `json:"external_payment_id,omitempty"`
	ForcedExpiry      bool                `json:"forced_expiry"`
	ChangedAt         time.Time           `json:"changed_at"`
}

// PaymentIntentApprovedEvent carries the plan created for an approved intent.
type PaymentIntentApprovedEvent struct {
	IntentID          uuid.UUID `json:"intent_id"`
	PreferenceID      string    `json:"preference_id"`
	CreatedPlanID     string    `json:"created_plan_id"`
	ExternalPaymentID *string   `json:"external_payment_id,omitempty"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	ApprovedAt        time.Time `json:"approved_at"`
}
