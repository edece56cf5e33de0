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

	"github.com/angelmondragon/fanvault-backend/api/controllers"
	"github.com/angelmondragon/fanvault-backend/api/routes"
	"github.com/angelmondragon/fanvault-backend/internal/access"
	"github.com/angelmondragon/fanvault-backend/internal/content"
	"github.com/angelmondragon/fanvault-backend/internal/creators"
	"github.com/angelmondragon/fanvault-backend/internal/entitlements"
	"github.com/angelmondragon/fanvault-backend/internal/ledger"
	"github.com/angelmondragon/fanvault-backend/internal/notifications"
	"github.com/angelmondragon/fanvault-backend/internal/payouts"
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

const shutdownTimeout = 15 * time.Second

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

	deps, err := buildDependencies(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "port": cfg.App.Port})

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server failed", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
	logg.Info(ctx, "api server stopped")
}

func buildDependencies(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Dependencies, error) {
	conn := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

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
		return routes.Dependencies{}, err
	}
	ents, err := entitlements.NewService(entitlements.ServiceParams{Repo: entitlements.NewRepository(conn)})
	if err != nil {
		return routes.Dependencies{}, err
	}
	lookup, err := content.NewLookup(content.NewRepository(conn))
	if err != nil {
		return routes.Dependencies{}, err
	}
	accessSvc, err := access.NewService(access.ServiceParams{
		Content:       lookup,
		Entitlements:  ents,
		Subscriptions: subs,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{Repo: ledger.NewRepository(conn)})
	if err != nil {
		return routes.Dependencies{}, err
	}
	notifier, err := notifications.NewOutboxNotifier(dbClient, outboxSvc)
	if err != nil {
		return routes.Dependencies{}, err
	}
	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:              payouts.NewRepository(conn),
		Ledger:            ledgerSvc,
		TransactionRunner: dbClient,
		Outbox:            outboxSvc,
		Notifier:          notifier,
		Logger:            logg,
		Metrics:           paymentMetrics,
		MinimumCents:      cfg.Payouts.MinimumCents,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

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
		return routes.Dependencies{}, err
	}
	guard, err := webhooks.NewGuard(redisClient, cfg.Webhooks.IdempotencyTTL)
	if err != nil {
		return routes.Dependencies{}, err
	}
	failures := webhooks.NewFailureRepository(conn)
	processor, err := webhooks.NewProcessor(webhooks.ProcessorParams{
		Reconciler: rec,
		Failures:   failures,
		Guard:      guard,
		Logger:     logg,
		Metrics:    paymentMetrics,
		Timeout:    cfg.Webhooks.ProcessingTimeout,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	var stripeNormalizer webhooks.Normalizer
	if cfg.Stripe.Secret != "" {
		n, err := webhooks.NewStripeNormalizer(cfg.Stripe.Secret)
		if err != nil {
			return routes.Dependencies{}, err
		}
		stripeNormalizer = n
	} else {
		logg.Warn(context.Background(), "stripe signing secret not set; stripe webhooks disabled")
	}
	providers := make(map[string]webhooks.Normalizer, len(cfg.Webhooks.Providers))
	for name := range cfg.Webhooks.Providers {
		secret, ok := cfg.Webhooks.ProviderSecret(name)
		if !ok {
			continue
		}
		n, err := webhooks.NewSignedNormalizer(name, secret)
		if err != nil {
			return routes.Dependencies{}, err
		}
		providers[n.Provider()] = n
	}

	return routes.Dependencies{
		Config: cfg,
		Logger: logg,
		Pingers: map[string]controllers.Pinger{
			"db":    dbClient,
			"redis": redisClient,
		},
		IdempotencyStore:    redisClient,
		RateLimiter:         redisClient,
		Access:              accessSvc,
		Subscriptions:       subs,
		Ledger:              ledgerSvc,
		Payouts:             payoutSvc,
		WebhookFailures:     failures,
		OutboxDLQ:           outbox.NewDLQRepository(dbClient.DB()),
		WebhookProcessor:    processor,
		StripeNormalizer:    stripeNormalizer,
		ProviderNormalizers: providers,
	}, nil
}
