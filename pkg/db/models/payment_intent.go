package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paylifecycle/pkg/enums"
)

// PaymentIntent records one payment attempt against an external gateway preference.
type PaymentIntent struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	PreferenceID      string               `gorm:"column:preference_id;not null;uniqueIndex:ux_payment_intents_preference_id"`
	ExternalPaymentID *string              `gorm:"column:external_payment_id"`
	Status            enums.PaymentStatus  `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	Amount            decimal.Decimal      `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency          string               `gorm:"column:currency;not null"`
	ExpiresAt         *time.Time           `gorm:"column:expires_at"`
	LastStatusCheckAt *time.Time           `gorm:"column:last_status_check_at"`
	CreatedPlanID     *string              `gorm:"column:created_plan_id"`
	PaymentMethod     *enums.PaymentMethod `gorm:"column:payment_method;type:payment_method"`
	BankCode          *string              `gorm:"column:bank_code"`
	Gateway           enums.Gateway        `gorm:"column:gateway;not null"`
	CreatedAt         time.Time            `gorm:"column:created_at"`
	UpdatedAt         time.Time            `gorm:"column:updated_at"`
}
