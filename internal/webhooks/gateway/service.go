package gatewaywebhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paylifecycle/internal/intents"
	"github.com/angelmondragon/paylifecycle/pkg/clock"
	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
)

// ObservationSource tags observations that arrive through this webhook.
const ObservationSource = "webhook"

type intentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	GetByPreference(ctx context.Context, preferenceID string) (*models.PaymentIntent, error)
	ApplyObservedStatus(ctx context.Context, id uuid.UUID, obs intents.Observation, now time.Time) (*models.PaymentIntent, error)
}

// Event is the status push delivered by a payment gateway.
type Event struct {
	EventID string    `json:"event_id"`
	Type    string    `json:"type"`
	Data    EventData `json:"data"`
}

type EventData struct {
	PreferenceID string  `json:"preference_id"`
	Status       string  `json:"status"`
	PaymentID    *string `json:"payment_id,omitempty"`
	PlanID       *string `json:"plan_id,omitempty"`
}

type ServiceParams struct {
	Intents intentStore
	Clock   clock.Clock
	Logger  *logger.Logger
}

type Service struct {
	intents intentStore
	clock   clock.Clock
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Intents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "intent store required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		intents: params.Intents,
		clock:   clk,
		logg:    params.Logger,
	}, nil
}

// HandleEvent applies a pushed status to the intent that owns the preference. A push the
// state machine refuses is acknowledged: the stored terminal state already wins.
func (s *Service) HandleEvent(ctx context.Context, event *Event) (*models.PaymentIntent, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway event required")
	}
	preferenceID := strings.TrimSpace(event.Data.PreferenceID)
	if preferenceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preference_id is required")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":      event.EventID,
		"event_type":    event.Type,
		"preference_id": preferenceID,
	})

	intent, err := s.intents.GetByPreference(ctx, preferenceID)
	if err != nil {
		return nil, err
	}

	applied, err := s.intents.ApplyObservedStatus(ctx, intent.ID, intents.Observation{
		RawStatus:         event.Data.Status,
		ExternalPaymentID: event.Data.PaymentID,
		PlanID:            event.Data.PlanID,
		Source:            ObservationSource,
	}, s.clock.Now())
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
			// the lookup ran unlocked; another writer may have settled the intent since
			current, getErr := s.intents.Get(ctx, intent.ID)
			if getErr != nil {
				return nil, getErr
			}
			s.logg.Info(s.logg.WithField(ctx, "status", current.Status), "gateway push ignored for settled intent")
			return current, nil
		}
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "status", applied.Status), fmt.Sprintf("gateway push applied to intent %s", applied.ID))
	return applied, nil
}
