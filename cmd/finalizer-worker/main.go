package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/auctionhouse-backend/internal/auctions"
	"github.com/angelmondragon/auctionhouse-backend/internal/cron"
	"github.com/angelmondragon/auctionhouse-backend/internal/notifications"
	"github.com/angelmondragon/auctionhouse-backend/internal/orders"
	"github.com/angelmondragon/auctionhouse-backend/pkg/config"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
	"github.com/angelmondragon/auctionhouse-backend/pkg/metrics"
	"github.com/angelmondragon/auctionhouse-backend/pkg/migrate"
	"github.com/angelmondragon/auctionhouse-backend/pkg/pubsub"
	"github.com/angelmondragon/auctionhouse-backend/pkg/redis"
)

const lockKeyFormat = "ah:finalizer-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "finalizer-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "finalizer-worker"

	logg = logger.New(logger.Options{
		ServiceName: "finalizer-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
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

	var notifier notifications.Notifier = notifications.Noop{}
	if cfg.FeatureFlags.NotificationsEnabled && cfg.GCP.ProjectID != "" {
		psClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub; notifications disabled", err)
		} else {
			defer psClient.Close()
			if topic, err := notifications.NewTopicPublisher(psClient.NotificationPublisher()); err != nil {
				logg.Error(context.Background(), "failed to resolve notification topic", err)
			} else if n, err := notifications.NewPubSubNotifier(topic, cfg.PubSub.PublishTimeout, logg); err != nil {
				logg.Error(context.Background(), "failed to create notifier", err)
			} else {
				notifier = n
			}
		}
	}

	feeRate, err := cfg.Settlement.FeeRate()
	if err != nil {
		logg.Error(context.Background(), "invalid platform fee rate", err)
		os.Exit(1)
	}

	finalizer, err := auctions.NewFinalizer(auctions.FinalizerParams{
		Auctions:    auctions.NewRepository(dbClient.DB()),
		Orders:      orders.NewRepository(dbClient.DB()),
		Tx:          dbClient,
		Notifier:    notifier,
		Metrics:     metrics.NewSettlementMetrics(prometheus.DefaultRegisterer),
		FeeRate:     feeRate,
		Currency:    cfg.Settlement.Currency,
		BatchSize:   cfg.Settlement.FinalizerBatchSize,
		Concurrency: cfg.Settlement.FinalizerConcurrency,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auction finalizer", err)
		os.Exit(1)
	}

	job, err := cron.NewFinalizeAuctionsJob(cron.FinalizeAuctionsJobParams{
		Finalizer: finalizer,
		Logger:    logg,
		BatchSize: cfg.Settlement.FinalizerBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create finalize job", err)
		os.Exit(1)
	}

	lock, err := redis.NewLock(redisClient, lockKey(cfg.App.Env), cfg.Settlement.FinalizerInterval)
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(job),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Settlement.FinalizerInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create scheduler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Settlement.FinalizerInterval.String(),
	})
	logg.Info(ctx, "starting finalizer worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "finalizer worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "finalizer worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
