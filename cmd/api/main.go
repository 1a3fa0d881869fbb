package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/paylifecycle/api/controllers"
	"github.com/angelmondragon/paylifecycle/api/routes"
	"github.com/angelmondragon/paylifecycle/internal/gateway"
	"github.com/angelmondragon/paylifecycle/internal/intents"
	"github.com/angelmondragon/paylifecycle/internal/issuer"
	"github.com/angelmondragon/paylifecycle/internal/poller"
	gatewaywebhook "github.com/angelmondragon/paylifecycle/internal/webhooks/gateway"
	"github.com/angelmondragon/paylifecycle/pkg/clock"
	"github.com/angelmondragon/paylifecycle/pkg/config"
	"github.com/angelmondragon/paylifecycle/pkg/db"
	"github.com/angelmondragon/paylifecycle/pkg/idempotency"
	"github.com/angelmondragon/paylifecycle/pkg/instance"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/metrics"
	"github.com/angelmondragon/paylifecycle/pkg/migrate"
	"github.com/angelmondragon/paylifecycle/pkg/outbox"
	"github.com/angelmondragon/paylifecycle/pkg/redis"
)

const (
	shutdownTimeout = 20 * time.Second
	webhookConsumer = "gateway-webhook"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      logger.ParseFormat(cfg.App.LogFormat),
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gateways, err := gateway.NewRouterFromConfig(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to configure gateways", err)
		os.Exit(1)
	}

	clk := clock.Real{}
	intentService, err := intents.NewService(intents.ServiceParams{
		Repository: intents.NewRepository(dbClient.DB()),
		DB:         dbClient,
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg, outbox.WithClock(clk)),
		Clock:      clk,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create intent store", err)
		os.Exit(1)
	}

	statusPoller, err := poller.New(poller.Params{
		Store:    intentService,
		Gateways: gateways,
		Clock:    clk,
		Metrics:  metrics.NewPollerMetrics(registry),
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create poller", err)
		os.Exit(1)
	}

	dispatcher, err := poller.NewDispatcher(poller.DispatcherParams{
		Runner:      statusPoller,
		Leases:      redisClient,
		LeaseTTL:    cfg.Poller.LeaseTTL,
		Schedule:    poller.ScheduleFromConfig(cfg.Poller),
		Concurrency: cfg.Poller.Concurrency,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create poll dispatcher", err)
		os.Exit(1)
	}

	issuerService, err := issuer.NewService(issuer.ServiceParams{
		Gateways:          gateways,
		Intents:           intentService,
		Dispatcher:        dispatcher,
		Config:            cfg.Intent,
		AllowBankTransfer: cfg.FeatureFlags.AllowBankTransfer,
		PollOnIssue:       cfg.FeatureFlags.PollOnIssue,
		Clock:             clk,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create preference issuer", err)
		os.Exit(1)
	}

	deps := routes.Dependencies{
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		IdempotencyStore: redisClient,
		Issuer:           issuerService,
		Intents:          intentService,
		Dispatcher:       dispatcher,
		Metrics:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	if cfg.FeatureFlags.WebhookStatusPush {
		webhookService, webhookGuard, err := buildWebhook(cfg, logg, redisClient, intentService, clk)
		if err != nil {
			logg.Error(context.Background(), "failed to create webhook handler", err)
			os.Exit(1)
		}
		deps.WebhookService = webhookService
		deps.WebhookGuard = webhookGuard
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"gateways": gateways.Gateways(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			dispatcher.Close()
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
	}
	// in-flight polls resume from the cron worker's stale sweep
	dispatcher.Close()
	logg.Info(ctx, "api server shut down gracefully")
}

func buildWebhook(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client, store intents.Service, clk clock.Clock) (*gatewaywebhook.Service, *gatewaywebhook.IdempotencyGuard, error) {
	manager, err := idempotency.NewManager(redisClient, cfg.Webhook.IdempotencyTTL, idempotency.WithClock(clk))
	if err != nil {
		return nil, nil, err
	}
	guard, err := gatewaywebhook.NewIdempotencyGuard(manager, webhookConsumer)
	if err != nil {
		return nil, nil, err
	}
	service, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Intents: store,
		Clock:   clk,
		Logger:  logg,
	})
	if err != nil {
		return nil, nil, err
	}
	return service, guard, nil
}
