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

	"github.com/angelmondragon/fanvault-backend/pkg/config"
	"github.com/angelmondragon/fanvault-backend/pkg/db"
	"github.com/angelmondragon/fanvault-backend/pkg/logger"
	"github.com/angelmondragon/fanvault-backend/pkg/metrics"
	"github.com/angelmondragon/fanvault-backend/pkg/migrate"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox"
	"github.com/angelmondragon/fanvault-backend/pkg/outbox/registry"
	"github.com/angelmondragon/fanvault-backend/pkg/pubsub"
	"github.com/angelmondragon/fanvault-backend/pkg/rabbitmq"
)

const serviceKind = "outbox-publisher"

func main() {
	boot := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	fatal := func(msg string, err error) {
		logg.Error(boot, msg, err)
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil {
		logg.Warn(boot, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(boot, cfg.DB, logg)
	if err != nil {
		fatal("failed to bootstrap database", err)
	}
	defer closeQuietly(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(boot, cfg, logg, dbClient); err != nil {
		fatal("failed to run dev migrations", err)
	}

	broker, closeBroker, err := newTransport(boot, cfg, logg)
	if err != nil {
		fatal("failed to bootstrap "+cfg.Outbox.TransportName(), err)
	}
	defer closeQuietly(logg, "transport", closeBroker)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		fatal("failed to build event registry", err)
	}
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Transport:     broker,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		fatal("failed to create outbox publisher", err)
	}

	ctx, stop := signal.NotifyContext(boot, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"transport":   cfg.Outbox.TransportName(),
	})
	logg.Info(ctx, "starting outbox publisher")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return metrics.Serve(groupCtx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg)
	})
	group.Go(func() error { return service.Run(groupCtx) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

func closeQuietly(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(logg.WithField(context.Background(), "resource", name), "close failed", err)
	}
}

func newTransport(ctx context.Context, cfg *config.Config, logg *logger.Logger) (transport, func() error, error) {
	if cfg.Outbox.TransportName() == config.OutboxTransportRabbitMQ {
		pub, err := rabbitmq.NewPublisher(ctx, cfg.RabbitMQ, logg)
		if err != nil {
			return nil, nil, err
		}
		return pub, pub.Close, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}
