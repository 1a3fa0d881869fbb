package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/paylifecycle/api/responses"
	"github.com/angelmondragon/paylifecycle/api/validators"
	"github.com/angelmondragon/paylifecycle/internal/intents"
	"github.com/angelmondragon/paylifecycle/internal/issuer"
	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	"github.com/angelmondragon/paylifecycle/pkg/enums"
	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
)

// IntentReader is the read side of the intent store used by the HTTP layer.
type IntentReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*intents.StatusView, error)
}

// PollDispatcher starts a background poll for an intent.
type PollDispatcher interface {
	Dispatch(ctx context.Context, intentID uuid.UUID) (bool, error)
}

type issueIntentRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"required,numeric,positive"`
	Currency      string          `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=card bank_transfer"`
	BankCode      *string         `json:"bank_code,omitempty" validate:"omitempty,min=1,max=32"`
	SourceID      string          `json:"source_id,omitempty" validate:"omitempty,max=255"`
	Title         string          `json:"title,omitempty" validate:"omitempty,max=120"`
}

type intentResponse struct {
	ID                uuid.UUID            `json:"id"`
	PreferenceID      string               `json:"preference_id"`
	Gateway           enums.Gateway        `json:"gateway"`
	Status            enums.PaymentStatus  `json:"status"`
	Amount            decimal.Decimal      `json:"amount"`
	Currency          string               `json:"currency"`
	PaymentMethod     *enums.PaymentMethod `json:"payment_method,omitempty"`
	BankCode          *string              `json:"bank_code,omitempty"`
	ExpiresAt         *time.Time           `json:"expires_at,omitempty"`
	ExternalPaymentID *string              `json:"external_payment_id,omitempty"`
	CreatedPlanID     *string              `json:"created_plan_id,omitempty"`
	LastStatusCheckAt *time.Time           `json:"last_status_check_at,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

type issueIntentResponse struct {
	Intent           intentResponse `json:"intent"`
	InitPoint        string         `json:"init_point"`
	SandboxInitPoint *string        `json:"sandbox_init_point,omitempty"`
	Polling          bool           `json:"polling"`
}

type pollResponse struct {
	IntentID uuid.UUID           `json:"intent_id"`
	Status   enums.PaymentStatus `json:"status"`
	Polling  bool                `json:"polling"`
}

func newIntentResponse(intent *models.PaymentIntent) intentResponse {
	return intentResponse{
		ID:                intent.ID,
		PreferenceID:      intent.PreferenceID,
		Gateway:           intent.Gateway,
		Status:            intent.Status,
		Amount:            intent.Amount,
		Currency:          intent.Currency,
		PaymentMethod:     intent.PaymentMethod,
		BankCode:          intent.BankCode,
		ExpiresAt:         intent.ExpiresAt,
		ExternalPaymentID: intent.ExternalPaymentID,
		CreatedPlanID:     intent.CreatedPlanID,
		LastStatusCheckAt: intent.LastStatusCheckAt,
		CreatedAt:         intent.CreatedAt,
	}
}

// IssuePaymentIntent opens a gateway preference and returns where the payer continues.
func IssuePaymentIntent(svc issuer.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "issuer service unavailable"))
			return
		}

		var payload issueIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		result, err := svc.Issue(r.Context(), issuer.IssueRequest{
			Amount:        payload.Amount,
			Currency:      payload.Currency,
			PaymentMethod: method,
			BankCode:      payload.BankCode,
			SourceID:      strings.TrimSpace(payload.SourceID),
			Title:         strings.TrimSpace(payload.Title),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, issueIntentResponse{
			Intent:           newIntentResponse(result.Intent),
			InitPoint:        result.InitPoint,
			SandboxInitPoint: result.SandboxInitPoint,
			Polling:          result.Polling,
		})
	}
}

func PaymentIntentDetail(svc IntentReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intent service unavailable"))
			return
		}
		id, err := intentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newIntentResponse(intent))
	}
}

// PaymentIntentStatus serves the read-only status projection.
func PaymentIntentStatus(svc IntentReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "intent service unavailable"))
			return
		}
		id, err := intentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetStatus(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// PaymentIntentPoll starts a background poll for a pending intent. Settled intents are
// reported without polling.
func PaymentIntentPoll(svc IntentReader, dispatcher PollDispatcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || dispatcher == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "poller unavailable"))
			return
		}
		id, err := intentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		intent, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if intent.Status.IsTerminal() {
			responses.WriteSuccess(w, pollResponse{IntentID: intent.ID, Status: intent.Status})
			return
		}

		started, err := dispatcher.Dispatch(r.Context(), intent.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dispatch poller"))
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(r.Context(), map[string]any{"intent_id": intent.ID.String(), "started": started}), "manual poll requested")
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, pollResponse{IntentID: intent.ID, Status: intent.Status, Polling: true})
	}
}

func intentIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "intentId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment intent id").WithDetails(map[string]any{"intentId": raw})
	}
	return id, nil
}
