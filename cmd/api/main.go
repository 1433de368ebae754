package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/auctionhouse-backend/api/routes"
	"github.com/angelmondragon/auctionhouse-backend/internal/auctions"
	"github.com/angelmondragon/auctionhouse-backend/internal/ledger"
	"github.com/angelmondragon/auctionhouse-backend/internal/notifications"
	"github.com/angelmondragon/auctionhouse-backend/internal/orders"
	"github.com/angelmondragon/auctionhouse-backend/internal/payments"
	paymentwebhook "github.com/angelmondragon/auctionhouse-backend/internal/webhooks/payments"
	"github.com/angelmondragon/auctionhouse-backend/pkg/config"
	"github.com/angelmondragon/auctionhouse-backend/pkg/db"
	"github.com/angelmondragon/auctionhouse-backend/pkg/logger"
	"github.com/angelmondragon/auctionhouse-backend/pkg/metrics"
	"github.com/angelmondragon/auctionhouse-backend/pkg/migrate"
	"github.com/angelmondragon/auctionhouse-backend/pkg/pubsub"
	"github.com/angelmondragon/auctionhouse-backend/pkg/redis"
	"github.com/angelmondragon/auctionhouse-backend/pkg/stripe"
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	notifier, closeNotifier := buildNotifier(context.Background(), cfg, logg)
	defer closeNotifier()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	kpis := metrics.NewSettlementMetrics(registry)

	feeRate, err := cfg.Settlement.FeeRate()
	if err != nil {
		logg.Error(context.Background(), "invalid platform fee rate", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	auctionRepo := auctions.NewRepository(conn)
	orderRepo := orders.NewRepository(conn)

	ledgerService, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	orderCache, err := orders.NewRedisCache(redisClient, cfg.Cache.OrderTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create order cache", err)
		os.Exit(1)
	}

	auctionService, err := auctions.NewService(auctions.ServiceParams{
		Repo:     auctionRepo,
		Tx:       dbClient,
		Notifier: notifier,
		Metrics:  kpis,
		AntiSnipe: auctions.AntiSnipe{
			Window:    cfg.Bidding.AntiSnipeWindow,
			Extension: cfg.Bidding.AntiSnipeExtension,
		},
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auction service", err)
		os.Exit(1)
	}

	finalizer, err := auctions.NewFinalizer(auctions.FinalizerParams{
		Auctions:    auctionRepo,
		Orders:      orderRepo,
		Tx:          dbClient,
		Notifier:    notifier,
		Metrics:     kpis,
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

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:     orderRepo,
		Tx:       dbClient,
		Ledger:   ledgerService,
		Cache:    orderCache,
		Notifier: notifier,
		Metrics:  kpis,
		Refunder: stripeClient,
		// Refunds share the provider call budget with webhook verification.
		ProviderTimeout: cfg.Webhooks.ProviderTimeout,
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	paymentParams := payments.ServiceParams{
		Repo:            payments.NewRepository(conn),
		Orders:          orderService,
		OrderRepo:       orderRepo,
		Ledger:          ledgerService,
		Tx:              dbClient,
		Notifier:        notifier,
		ProviderTimeout: cfg.Webhooks.ProviderTimeout,
		Logger:          logg,
	}
	if cfg.Webhooks.VerifyWithProvider {
		paymentParams.Fetcher = stripeClient
	}
	paymentService, err := payments.NewService(paymentParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	gateway, err := paymentwebhook.NewGateway(paymentwebhook.GatewayParams{
		Events:      paymentwebhook.NewEventRepository(conn),
		OrderRepo:   orderRepo,
		Orders:      orderService,
		Payments:    paymentService,
		Locks:       redisClient,
		Secret:      stripeClient.SigningSecret(),
		MaxEventAge: cfg.Webhooks.MaxEventAge,
		FutureSkew:  cfg.Webhooks.FutureSkew,
		LockTTL:     cfg.Webhooks.LockTTL,
		LockTimeout: cfg.Webhooks.LockTimeout,
		StaleAfter:  cfg.Webhooks.StaleAfter,
		Metrics:     kpis,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment webhook gateway", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   id,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			auctionService,
			finalizer,
			orderService,
			gateway,
		),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}

// buildNotifier publishes to Pub/Sub when notifications are enabled and a
// project is configured; otherwise notifications are dropped.
func buildNotifier(ctx context.Context, cfg *config.Config, logg *logger.Logger) (notifications.Notifier, func()) {
	noop := func() {}
	if !cfg.FeatureFlags.NotificationsEnabled || cfg.GCP.ProjectID == "" {
		logg.Warn(ctx, "notifications disabled; using no-op notifier")
		return notifications.Noop{}, noop
	}

	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub; notifications disabled", err)
		return notifications.Noop{}, noop
	}
	closeClient := func() {
		if err := client.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}

	topic, err := notifications.NewTopicPublisher(client.NotificationPublisher())
	if err != nil {
		logg.Error(ctx, "failed to resolve notification topic; notifications disabled", err)
		return notifications.Noop{}, closeClient
	}
	notifier, err := notifications.NewPubSubNotifier(topic, cfg.PubSub.PublishTimeout, logg)
	if err != nil {
		logg.Error(ctx, "failed to create notifier; notifications disabled", err)
		return notifications.Noop{}, closeClient
	}
	return notifier, closeClient
}
