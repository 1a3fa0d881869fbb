package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/paylifecycle/api/controllers"
	webhookcontrollers "github.com/angelmondragon/paylifecycle/api/controllers/webhooks"
	"github.com/angelmondragon/paylifecycle/api/middleware"
	"github.com/angelmondragon/paylifecycle/internal/issuer"
	gatewaywebhook "github.com/angelmondragon/paylifecycle/internal/webhooks/gateway"
	"github.com/angelmondragon/paylifecycle/pkg/config"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
)

// Dependencies carries everything the HTTP surface calls into. Nil webhook
// dependencies leave the push endpoint unmounted.
type Dependencies struct {
	Readiness        map[string]controllers.Pinger
	IdempotencyStore middleware.ResponseStore
	Issuer           issuer.Service
	Intents          controllers.IntentReader
	Dispatcher       controllers.PollDispatcher
	WebhookService   webhookcontrollers.GatewayWebhookService
	WebhookGuard     *gatewaywebhook.IdempotencyGuard
	Metrics          http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	if cfg.FeatureFlags.WebhookStatusPush && deps.WebhookService != nil && deps.WebhookGuard != nil {
		r.Route("/api/v1/webhooks", func(r chi.Router) {
			r.Post("/gateway", webhookcontrollers.GatewayWebhook(deps.WebhookService, cfg.Webhook.SigningSecret, deps.WebhookGuard, logg))
		})
	}

	r.Route("/api/v1/payment-intents", func(r chi.Router) {
		r.Use(middleware.Idempotency(deps.IdempotencyStore, logg))
		r.Post("/", controllers.IssuePaymentIntent(deps.Issuer, logg))
		r.Route("/{intentId}", func(r chi.Router) {
			r.Get("/", controllers.PaymentIntentDetail(deps.Intents, logg))
			r.Get("/status", controllers.PaymentIntentStatus(deps.Intents, logg))
			r.Post("/poll", controllers.PaymentIntentPoll(deps.Intents, deps.Dispatcher, logg))
		})
	})

	return r
}
