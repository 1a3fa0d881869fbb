package gateway

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/paylifecycle/pkg/enums"
	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/square"
)

// squareStatusTokens translates Square payment states into lifecycle tokens.
// APPROVED means authorized but not captured, so it stays undecided.
var squareStatusTokens = map[string]string{
	"APPROVED":  "in_process",
	"PENDING":   "pending",
	"COMPLETED": "approved",
	"CANCELED":  "canceled",
	"FAILED":    "rejected",
}

type squarePaymentsAPI interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

// Square charges tokenized cards. The Square payment id doubles as the preference id.
type Square struct {
	api  squarePaymentsAPI
	logg *logger.Logger
}

func NewSquare(api squarePaymentsAPI, logg *logger.Logger) (*Square, error) {
	if api == nil {
		return nil, fmt.Errorf("square payments client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Square{api: api, logg: logg}, nil
}

func (s *Square) Name() enums.Gateway {
	return enums.GatewaySquare
}

func (s *Square) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	if strings.TrimSpace(req.SourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card source id is required")
	}
	cents := req.Amount.Shift(2)
	if !cents.IsInteger() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount has more than two decimal places")
	}

	payment, err := s.api.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    cents.IntPart(),
		Currency:       req.Currency,
		SourceID:       req.SourceID,
		IdempotencyKey: req.Reference,
		ReferenceID:    req.Reference,
		Note:           req.Title,
	})
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.GetID() == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square returned a payment without id")
	}

	return &Preference{
		PreferenceID: *payment.GetID(),
		InitPoint:    stringOrEmpty(payment.GetReceiptURL()),
		Gateway:      enums.GatewaySquare,
	}, nil
}

func (s *Square) QueryStatus(ctx context.Context, preferenceID string) (StatusReport, error) {
	payment, err := s.api.GetPayment(ctx, preferenceID)
	if err != nil {
		return StatusReport{}, err
	}
	if payment == nil {
		return StatusReport{}, pkgerrors.New(pkgerrors.CodeDependency, "square returned an empty payment")
	}

	raw := strings.ToUpper(stringOrEmpty(payment.GetStatus()))
	token, ok := squareStatusTokens[raw]
	if !ok {
		s.logg.Warn(s.logg.WithField(ctx, "square_status", raw), "unrecognized square payment status")
		token = raw
	}
	return StatusReport{RawStatus: token, ExternalPaymentID: payment.GetID()}, nil
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
