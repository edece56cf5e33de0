package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/fanvault-backend/internal/creators"
	"github.com/angelmondragon/fanvault-backend/internal/cron"
	"github.com/angelmondragon/fanvault-backend/internal/entitlements"
	"github.com/angelmondragon/fanvault-backend/internal/ledger"
	"github.com/angelmondragon/fanvault-backend/internal/notifications"
	"github.com/angelmondragon/fanvault-backend/internal/reconciler"
	"github.com/angelmondragon/fanvault-backend/internal/subscriptions"
	"github.com/angelmondragon/fanvault-backend/internal/transactions"
	"github.com/angelmondragon/fanvault-backend/internal/webhooks"
	"github.com/angelmondragon/fanvault-backend/pkg/config"
	"github.com/angelmondragon/fanvault-backend/pkg/db"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/metrics"
	"github.com/angelmondragon/fanvault-backend/pkg/migrate"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
	"github.com/angelmondragon/fanvault-backend/pkg/redis"
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
		Format:      cfg.App.LogFormat,
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

	registry, err := buildJobs(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, cfg.Cron.LockKey, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Schedule: cfg.Cron.Schedule,
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
		"schedule":    cfg.Cron.Schedule,
		"jobs":        registry.Names(),
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return metrics.Serve(groupCtx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg)
	})
	group.Go(func() error { return service.Run(groupCtx) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, logg)

	var approvals creators.Approvals = creators.AllowAll{}
	if cfg.FeatureFlags.RequireCreatorKYC {
		approvals = creators.NewApprovals(conn)
	}
	subs, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(conn),
		Approvals:         approvals,
		TransactionRunner: dbClient,
		PeriodDays:        cfg.Billing.PeriodDays,
	})
	if err != nil {
		return nil, err
	}
	ents, err := entitlements.NewService(entitlements.ServiceParams{Repo: entitlements.NewRepository(conn)})
	if err != nil {
		return nil, err
	}
	ledgerRepo := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{Repo: ledgerRepo})
	if err != nil {
		return nil, err
	}
	notifier, err := notifications.NewOutboxNotifier(dbClient, outboxSvc)
	if err != nil {
		return nil, err
	}
	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	rec, err := reconciler.NewService(reconciler.ServiceParams{
		TransactionRunner: dbClient,
		Transactions:      transactions.NewRepository(conn),
		Subscriptions:     subs,
		Entitlements:      ents,
		Ledger:            ledgerSvc,
		Outbox:            outboxSvc,
		Notifier:          notifier,
		Logger:            logg,
		Metrics:           paymentMetrics,
		PeriodDays:        cfg.Billing.PeriodDays,
	})
	if err != nil {
		return nil, err
	}
	guard, err := webhooks.NewGuard(redisClient, cfg.Webhooks.IdempotencyTTL)
	if err != nil {
		return nil, err
	}
	processor, err := webhooks.NewProcessor(webhooks.ProcessorParams{
		Reconciler: rec,
		Failures:   webhooks.NewFailureRepository(conn),
		Guard:      guard,
		Logger:     logg,
		Metrics:    paymentMetrics,
		Timeout:    cfg.Webhooks.ProcessingTimeout,
	})
	if err != nil {
		return nil, err
	}

	expiry, err := cron.NewSubscriptionExpiryJob(cron.SubscriptionExpiryJobParams{
		Logger:        logg,
		DB:            dbClient,
		Subscriptions: subs,
		Outbox:        outboxSvc,
	})
	if err != nil {
		return nil, err
	}
	replay, err := cron.NewWebhookReplayJob(cron.WebhookReplayJobParams{
		Logger:      logg,
		Replayer:    processor,
		BatchSize:   cfg.Webhooks.ReplayBatchSize,
		MaxAttempts: cfg.Webhooks.ReplayMaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	audit, err := cron.NewLedgerAuditJob(cron.LedgerAuditJobParams{Logger: logg, Ledger: ledgerRepo})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	registry, err := cron.NewRegistry(expiry, replay, audit, retention)
	if err != nil {
		return nil, err
	}
	return registry.Only(cfg.Cron.Jobs)
}
