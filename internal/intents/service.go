package intents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/paylifecycle/internal/lifecycle"
	"github.com/angelmondragon/paylifecycle/pkg/clock"
	dbpkg "github.com/angelmondragon/paylifecycle/pkg/db"
	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	"github.com/angelmondragon/paylifecycle/pkg/enums"
	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/outbox"
	"github.com/angelmondragon/paylifecycle/pkg/outbox/payloads"
)

const preferenceConstraint = "ux_payment_intents_preference_id"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the only writer of payment intent state.
type Service interface {
	Create(ctx context.Context, params CreateParams) (*models.PaymentIntent, error)
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	GetByPreference(ctx context.Context, preferenceID string) (*models.PaymentIntent, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*StatusView, error)
	ApplyObservedStatus(ctx context.Context, id uuid.UUID, obs Observation, now time.Time) (*models.PaymentIntent, error)
	RecordCheck(ctx context.Context, id uuid.UUID, now time.Time) error
	ExpireIfDue(ctx context.Context, id uuid.UUID, now time.Time) (*models.PaymentIntent, bool, error)
	ListPending(ctx context.Context, params ListPendingParams) ([]models.PaymentIntent, error)
}

// ServiceParams wires the intent store.
type ServiceParams struct {
	Repository Repository
	DB         txRunner
	Outbox     outboxPublisher
	Plans      PlanProvisioner
	Clock      clock.Clock
	Logger     *logger.Logger
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	plans  PlanProvisioner
	clock  clock.Clock
	policy lifecycle.ExpirationPolicy
	locks  *lockTable
	logg   *logger.Logger
}

// NewService builds the intent store. Outbox, Plans and Clock are optional.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("intents repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	plans := params.Plans
	if plans == nil {
		plans = uuidPlanProvisioner{}
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &service{
		repo:   params.Repository,
		tx:     params.DB,
		outbox: params.Outbox,
		plans:  plans,
		clock:  clk,
		policy: lifecycle.NewExpirationPolicy(params.Logger),
		locks:  newLockTable(),
		logg:   params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, params CreateParams) (*models.PaymentIntent, error) {
	preferenceID := strings.TrimSpace(params.PreferenceID)
	if preferenceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preference id required")
	}
	if params.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if len(currency) != 3 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency must be an ISO-4217 code")
	}
	if !params.Gateway.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown gateway")
	}
	if params.PaymentMethod != nil && !params.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}

	now := s.clock.Now()
	intent := &models.PaymentIntent{
		ID:            uuid.New(),
		PreferenceID:  preferenceID,
		Status:        enums.PaymentStatusPending,
		Amount:        params.Amount,
		Currency:      currency,
		ExpiresAt:     utcPtr(params.ExpiresAt),
		PaymentMethod: params.PaymentMethod,
		BankCode:      params.BankCode,
		Gateway:       params.Gateway,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByPreferenceID(ctx, preferenceID); err == nil {
			return duplicatePreference(nil)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup preference")
		}
		if err := repo.Create(ctx, intent); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return duplicatePreference(err)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithIntentID(ctx, intent.ID.String())
	logCtx = s.logg.WithPreferenceID(logCtx, intent.PreferenceID)
	s.logg.Info(logCtx, "payment intent created")
	return intent, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return intent, nil
}

func (s *service) GetByPreference(ctx context.Context, preferenceID string) (*models.PaymentIntent, error) {
	preferenceID = strings.TrimSpace(preferenceID)
	if preferenceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preference id required")
	}
	intent, err := s.repo.FindByPreferenceID(ctx, preferenceID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return intent, nil
}

func (s *service) GetStatus(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	intent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return newStatusView(intent, s.policy.IsExpired(intent.ExpiresAt, s.clock.Now())), nil
}

// ApplyObservedStatus normalizes the report, checks the deadline, then runs the transition
// table. Read, decision and write happen under the intent's lock inside one transaction.
func (s *service) ApplyObservedStatus(ctx context.Context, id uuid.UUID, obs Observation, now time.Time) (*models.PaymentIntent, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"intent_id":  id.String(),
		"raw_status": obs.RawStatus,
		"source":     obs.Source,
	})

	var result *models.PaymentIntent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		intent, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return mapLookupError(err)
		}

		observed := lifecycle.NormalizeStatus(obs.RawStatus)
		pastDeadline := s.policy.IsExpired(intent.ExpiresAt, now)
		decision, err := lifecycle.Decide(intent.Status, observed, pastDeadline)
		if err != nil {
			refusedCtx := s.logg.WithFields(logCtx, map[string]any{
				"current_status":  intent.Status,
				"observed_status": observed,
			})
			s.logg.Warn(refusedCtx, "status transition refused")
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "status transition refused").
				WithDetails(map[string]any{"current_status": intent.Status, "observed_status": observed})
		}
		if decision.Overridden() {
			s.logg.Warn(s.logg.WithField(logCtx, "observed_status", observed), "late terminal observation overridden by expiration")
		}

		updates := map[string]any{}
		if intent.LastStatusCheckAt == nil || now.After(*intent.LastStatusCheckAt) {
			updates["last_status_check_at"] = now
		}
		// the gateway's payment id is only kept once the outcome is decided
		if intent.ExternalPaymentID == nil && decision.To.IsTerminal() && nonBlank(obs.ExternalPaymentID) {
			updates["external_payment_id"] = strings.TrimSpace(*obs.ExternalPaymentID)
		}

		var planID string
		if decision.Changed() {
			updates["status"] = decision.To
			if decision.To == enums.PaymentStatusApproved {
				planID, err = s.resolvePlanID(ctx, intent, obs)
				if err != nil {
					return err
				}
				updates["created_plan_id"] = planID
			}
		}

		if len(updates) == 0 {
			result = intent
			return nil
		}
		updates["updated_at"] = now
		if err := repo.UpdateFields(ctx, intent.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment intent")
		}
		updated, err := repo.FindByID(ctx, intent.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment intent")
		}
		result = updated

		if decision.Changed() {
			return s.emitTransition(ctx, tx, updated, decision, obs, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Status.IsTerminal() {
		s.logg.Info(s.logg.WithField(logCtx, "status", result.Status), "payment intent settled")
	}
	return result, nil
}

// RecordCheck advances last_status_check_at without evaluating any status.
func (s *service) RecordCheck(ctx context.Context, id uuid.UUID, now time.Time) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		intent, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return mapLookupError(err)
		}
		if intent.LastStatusCheckAt != nil && !now.After(*intent.LastStatusCheckAt) {
			return nil
		}
		if err := repo.UpdateFields(ctx, id, map[string]any{
			"last_status_check_at": now,
			"updated_at":           now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record status check")
		}
		return nil
	})
}

// ExpireIfDue forces a pending intent past its deadline into expired. The bool reports
// whether this call performed the transition.
func (s *service) ExpireIfDue(ctx context.Context, id uuid.UUID, now time.Time) (*models.PaymentIntent, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var (
		result  *models.PaymentIntent
		expired bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		intent, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return mapLookupError(err)
		}
		result = intent
		if intent.Status != enums.PaymentStatusPending || !s.policy.IsExpired(intent.ExpiresAt, now) {
			return nil
		}

		updates := map[string]any{
			"status":     enums.PaymentStatusExpired,
			"updated_at": now,
		}
		if intent.LastStatusCheckAt == nil || now.After(*intent.LastStatusCheckAt) {
			updates["last_status_check_at"] = now
		}
		if err := repo.UpdateFields(ctx, id, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire payment intent")
		}
		updated, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment intent")
		}
		result = updated
		expired = true

		decision := lifecycle.Decision{
			From:         enums.PaymentStatusPending,
			To:           enums.PaymentStatusExpired,
			Observed:     enums.PaymentStatusPending,
			ForcedExpiry: true,
		}
		return s.emitTransition(ctx, tx, updated, decision, Observation{Source: "expiry"}, now)
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		s.logg.Info(s.logg.WithIntentID(ctx, id.String()), "payment intent expired")
	}
	return result, expired, nil
}

func (s *service) ListPending(ctx context.Context, params ListPendingParams) ([]models.PaymentIntent, error) {
	rows, err := s.repo.ListPending(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending intents")
	}
	return rows, nil
}

func (s *service) resolvePlanID(ctx context.Context, intent *models.PaymentIntent, obs Observation) (string, error) {
	if nonBlank(obs.PlanID) {
		return strings.TrimSpace(*obs.PlanID), nil
	}
	planID, err := s.plans.ProvisionPlan(ctx, intent)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "provision plan")
	}
	if strings.TrimSpace(planID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "plan provisioner returned an empty id")
	}
	return planID, nil
}

func (s *service) emitTransition(ctx context.Context, tx *gorm.DB, intent *models.PaymentIntent, decision lifecycle.Decision, obs Observation, now time.Time) error {
	if s.outbox == nil {
		return nil
	}
	source := &outbox.SourceRef{Component: obs.Source}
	changed := outbox.DomainEvent{
		EventType:     enums.EventPaymentIntentStatusChanged,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Version:       1,
		Source:        source,
		OccurredAt:    now,
		Data: payloads.PaymentIntentStatusChangedEvent{
			IntentID:          intent.ID,
			PreferenceID:      intent.PreferenceID,
			Gateway:           intent.Gateway,
			From:              decision.From,
			To:                decision.To,
			ObservedStatus:    obs.RawStatus,
			ExternalPaymentID: intent.ExternalPaymentID,
			ForcedExpiry:      decision.ForcedExpiry,
			ChangedAt:         now,
		},
	}
	if err := s.outbox.Emit(ctx, tx, changed); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue status change event")
	}
	if decision.To != enums.PaymentStatusApproved || intent.CreatedPlanID == nil {
		return nil
	}
	approved := outbox.DomainEvent{
		EventType:     enums.EventPaymentIntentApproved,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Version:       1,
		Source:        source,
		OccurredAt:    now,
		Data: payloads.PaymentIntentApprovedEvent{
			IntentID:          intent.ID,
			PreferenceID:      intent.PreferenceID,
			CreatedPlanID:     *intent.CreatedPlanID,
			ExternalPaymentID: intent.ExternalPaymentID,
			Amount:            intent.Amount.StringFixed(2),
			Currency:          intent.Currency,
			ApprovedAt:        now,
		},
	}
	if err := s.outbox.Emit(ctx, tx, approved); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue approval event")
	}
	return nil
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrNotFound, "payment intent not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
}

func duplicatePreference(cause error) error {
	if cause != nil {
		cause = fmt.Errorf("%w: %v", ErrDuplicatePreference, cause)
	} else {
		cause = ErrDuplicatePreference
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, cause, "preference already has a payment intent")
}

func nonBlank(value *string) bool {
	return value != nil && strings.TrimSpace(*value) != ""
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
