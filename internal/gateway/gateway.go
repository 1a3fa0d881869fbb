package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paylifecycle/pkg/enums"
)

// ErrUnsupported is wrapped when no gateway is registered for a method or name.
var ErrUnsupported = errors.New("payment gateway not supported")

// StatusReport is the raw answer of a gateway status query.
type StatusReport struct {
	RawStatus         string
	ExternalPaymentID *string
}

// StatusQuerier asks the gateway for the current status of a preference.
// Implementations must be idempotent and safe to call repeatedly.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, preferenceID string) (StatusReport, error)
}

// StatusQuerierFunc adapts a function to StatusQuerier.
type StatusQuerierFunc func(ctx context.Context, preferenceID string) (StatusReport, error)

func (f StatusQuerierFunc) QueryStatus(ctx context.Context, preferenceID string) (StatusReport, error) {
	return f(ctx, preferenceID)
}

// PreferenceRequest describes the payment the payer is about to make.
type PreferenceRequest struct {
	// Reference is our correlation id, echoed back by the gateway.
	Reference     string
	Title         string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod enums.PaymentMethod
	BankCode      *string
	// SourceID is the tokenized card for card charges.
	SourceID  string
	ExpiresAt *time.Time
}

// Preference is the gateway handle returned at issue time.
type Preference struct {
	PreferenceID     string
	InitPoint        string
	SandboxInitPoint *string
	// ExpiresAt is the gateway-reported deadline, unparsed.
	ExpiresAt string
	Gateway   enums.Gateway
}

// PreferenceCreator opens a preference at the gateway.
type PreferenceCreator interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
}

// Client is a full gateway integration.
type Client interface {
	StatusQuerier
	PreferenceCreator
	Name() enums.Gateway
}

// Resolver finds the status querier for a stored intent's gateway.
type Resolver interface {
	Querier(name enums.Gateway) (StatusQuerier, error)
}
