package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/paylifecycle/internal/cron"
	"github.com/angelmondragon/paylifecycle/internal/gateway"
	"github.com/angelmondragon/paylifecycle/internal/intents"
	"github.com/angelmondragon/paylifecycle/internal/poller"
	"github.com/angelmondragon/paylifecycle/pkg/clock"
	"github.com/angelmondragon/paylifecycle/pkg/config"
	"github.com/angelmondragon/paylifecycle/pkg/db"
	"github.com/angelmondragon/paylifecycle/pkg/instance"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/metrics"
	"github.com/angelmondragon/paylifecycle/pkg/migrate"
	"github.com/angelmondragon/paylifecycle/pkg/outbox"
	"github.com/angelmondragon/paylifecycle/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	gateways, err := gateway.NewRouterFromConfig(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to configure gateways", err)
		os.Exit(1)
	}

	clk := clock.Real{}
	outboxRepo := outbox.NewRepository(dbClient.DB())
	intentService, err := intents.NewService(intents.ServiceParams{
		Repository: intents.NewRepository(dbClient.DB()),
		DB:         dbClient,
		Outbox:     outbox.NewService(outboxRepo, logg, outbox.WithClock(clk)),
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
		Metrics:  metrics.NewPollerMetrics(prometheus.DefaultRegisterer),
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
	defer dispatcher.Close()

	registry, err := buildRegistry(cfg, logg, dbClient, outboxRepo, intentService, dispatcher, clk)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Clock:      clk,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")
	go func() {
		if err := metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, outboxRepo *outbox.Repository, store intents.Service, dispatcher *poller.Dispatcher, clk clock.Clock) (*cron.Registry, error) {
	expiry, err := cron.NewIntentExpiryJob(cron.IntentExpiryJobParams{
		Logger:    logg,
		Intents:   store,
		Clock:     clk,
		BatchSize: cfg.Cron.ExpiryBatch,
	})
	if err != nil {
		return nil, err
	}
	poll, err := cron.NewIntentPollJob(cron.IntentPollJobParams{
		Logger:     logg,
		Intents:    store,
		Dispatcher: dispatcher,
		Clock:      clk,
		BatchSize:  cfg.Cron.PollBatch,
		StaleAfter: cfg.Poller.StaleAfter,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		DB:           dbClient,
		Outbox:       outboxRepo,
		DLQ:          outbox.NewDLQRepository(dbClient.DB()),
		Clock:        clk,
		Retention:    cfg.Outbox.Retention,
		DLQRetention: cfg.Outbox.DLQRetention,
		MinAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{expiry, poll, retention} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
