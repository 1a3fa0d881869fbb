package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/paylifecycle/api/responses"
	gatewaywebhook "github.com/angelmondragon/paylifecycle/internal/webhooks/gateway"
	"github.com/angelmondragon/paylifecycle/pkg/db/models"
	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
	"github.com/angelmondragon/paylifecycle/pkg/idempotency"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
)

const maxWebhookBytes = 1 << 20

type GatewayWebhookService interface {
	HandleEvent(ctx context.Context, event *gatewaywebhook.Event) (*models.PaymentIntent, error)
}

type gatewayWebhookGuard interface {
	Mark(ctx context.Context, eventID string) (idempotency.Receipt, error)
	Forget(ctx context.Context, eventID string) error
}

// GatewayWebhook applies signed status pushes from payment gateways.
func GatewayWebhook(svc GatewayWebhookService, secret string, guard gatewayWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}
		if secret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret not configured"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get(gatewaywebhook.SignatureHeader)
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "gateway signature missing"))
			return
		}
		if !gatewaywebhook.ValidSignature(payload, secret, sigHeader) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid gateway signature"))
			return
		}

		var event gatewaywebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		eventID := strings.TrimSpace(event.EventID)
		if eventID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event_id is required"))
			return
		}

		receipt, err := guard.Mark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if receipt.Duplicate {
			body := map[string]any{"event_id": eventID, "duplicate": true}
			if !receipt.FirstSeen.IsZero() {
				body["first_seen_at"] = receipt.FirstSeen
			}
			responses.WriteSuccess(w, body)
			return
		}

		intent, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			if ferr := guard.Forget(ctx, eventID); ferr != nil && logg != nil {
				logg.Error(ctx, "forget webhook event", ferr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"event_id":  eventID,
			"intent_id": intent.ID,
			"status":    intent.Status,
		})
	}
}
