package issuer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paylifecycle/internal/gateway"
	"github.com/angelmondragon/paylifecycle/internal/intents"
	"github.com/angelmondragon/paylifecycle/internal/lifecycle"
	"github.com/angelmondragon/paylifecycle/pkg/clock"
	"github.com/angelmondragon/paylifecycle/pkg/config"
	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	"github.com/angelmondragon/paylifecycle/pkg/enums"
	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
)

// IssueRequest is a caller's request to start paying.
type IssueRequest struct {
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod enums.PaymentMethod
	BankCode      *string
	// SourceID is the card token for card payments.
	SourceID string
	Title    string
}

// IssueResult is what the payer needs to continue at the gateway.
type IssueResult struct {
	Intent           *models.PaymentIntent
	InitPoint        string
	SandboxInitPoint *string
	Polling          bool
}

type gatewayRouter interface {
	ForMethod(method enums.PaymentMethod) (gateway.Client, error)
}

type intentCreator interface {
	Create(ctx context.Context, params intents.CreateParams) (*models.PaymentIntent, error)
}

type pollDispatcher interface {
	Dispatch(ctx context.Context, intentID uuid.UUID) (bool, error)
}

// Service opens a gateway preference and seeds the intent store with it.
type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*IssueResult, error)
}

// ServiceParams wires the issuer. Dispatcher is optional.
type ServiceParams struct {
	Gateways          gatewayRouter
	Intents           intentCreator
	Dispatcher        pollDispatcher
	Config            config.IntentConfig
	AllowBankTransfer bool
	PollOnIssue       bool
	Clock             clock.Clock
	Logger            *logger.Logger
}

type service struct {
	gateways          gatewayRouter
	intents           intentCreator
	dispatcher        pollDispatcher
	cfg               config.IntentConfig
	allowBankTransfer bool
	pollOnIssue       bool
	clock             clock.Clock
	logg              *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway router required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &service{
		gateways:          params.Gateways,
		intents:           params.Intents,
		dispatcher:        params.Dispatcher,
		cfg:               params.Config,
		allowBankTransfer: params.AllowBankTransfer,
		pollOnIssue:       params.PollOnIssue,
		clock:             clk,
		logg:              params.Logger,
	}, nil
}

func (s *service) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = strings.ToUpper(s.cfg.DefaultCurrency)
	}
	if len(currency) != 3 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency must be an ISO-4217 code")
	}
	if !req.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	if req.PaymentMethod == enums.PaymentMethodBankTransfer && !s.allowBankTransfer {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bank transfer payments are disabled")
	}

	client, err := s.gateways.ForMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	reference := uuid.NewString()
	var deadline *time.Time
	if ttl := s.cfg.TTLFor(string(req.PaymentMethod)); ttl > 0 {
		d := now.Add(ttl)
		deadline = &d
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"reference":      reference,
		"gateway":        client.Name(),
		"payment_method": req.PaymentMethod,
	})

	pref, err := client.CreatePreference(ctx, gateway.PreferenceRequest{
		Reference:     reference,
		Title:         req.Title,
		Amount:        req.Amount,
		Currency:      currency,
		PaymentMethod: req.PaymentMethod,
		BankCode:      req.BankCode,
		SourceID:      req.SourceID,
		ExpiresAt:     deadline,
	})
	if err != nil {
		s.logg.Error(logCtx, "create gateway preference", err)
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "create gateway preference")
	}

	expiresAt := s.resolveDeadline(logCtx, pref.ExpiresAt, deadline)
	method := req.PaymentMethod
	intent, err := s.intents.Create(ctx, intents.CreateParams{
		PreferenceID:  pref.PreferenceID,
		Amount:        req.Amount,
		Currency:      currency,
		ExpiresAt:     expiresAt,
		PaymentMethod: &method,
		BankCode:      req.BankCode,
		Gateway:       client.Name(),
	})
	if err != nil {
		s.logg.Error(s.logg.WithPreferenceID(logCtx, pref.PreferenceID), "seed payment intent", err)
		return nil, err
	}

	result := &IssueResult{
		Intent:           intent,
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
	}
	if s.pollOnIssue && s.dispatcher != nil {
		started, err := s.dispatcher.Dispatch(ctx, intent.ID)
		if err != nil {
			s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "poll dispatch failed")
		}
		result.Polling = started
	}

	s.logg.Info(s.logg.WithIntentID(logCtx, intent.ID.String()), "payment intent issued")
	return result, nil
}

// resolveDeadline prefers the gateway's deadline and falls back to the configured TTL when the
// gateway sent none or sent something unparseable.
func (s *service) resolveDeadline(ctx context.Context, raw string, fallback *time.Time) *time.Time {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := lifecycle.ParseDeadline(raw)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"expires_at_raw": raw,
			"reason":         "malformed_observation",
		}), "gateway deadline unparseable, using configured ttl")
		return fallback
	}
	return parsed
}
