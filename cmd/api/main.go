package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/billflow-backend/api/routes"
	"github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/internal/charges"
	"github.com/angelmondragon/billflow-backend/internal/paymentmethods"
	"github.com/angelmondragon/billflow-backend/internal/subscriptions"
	paystackwebhook "github.com/angelmondragon/billflow-backend/internal/webhooks/paystack"
	"github.com/angelmondragon/billflow-backend/pkg/config"
	"github.com/angelmondragon/billflow-backend/pkg/db"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/migrate"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
	"github.com/angelmondragon/billflow-backend/pkg/redis"
)

// webhookDedupeTTL bounds how long a delivery's dedupe key survives. Paystack
// retries failed deliveries for up to 72 hours.
const webhookDedupeTTL = 72 * time.Hour

// shutdownTimeout caps how long in-flight requests may drain on SIGTERM.
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

	paystackClient, err := paystack.NewClient(context.Background(), cfg.Paystack, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create paystack client", err)
		os.Exit(1)
	}

	planCatalog, err := paystack.NewCatalog(paystackClient, redisClient, cfg.Paystack.PlanCacheTTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create plan catalog", err)
		os.Exit(1)
	}

	billingRepo := billing.NewRepository(dbClient.DB())

	billingService, err := billing.NewService(billing.ServiceParams{
		Repo:     billingRepo,
		Provider: paystackClient,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	subscriptionsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              billingRepo,
		Provider:          paystackClient,
		Catalog:           planCatalog,
		Customers:         billingService,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	paymentMethodsService, err := paymentmethods.NewService(paymentmethods.ServiceParams{
		Repo:              billingRepo,
		Provider:          paystackClient,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment method service", err)
		os.Exit(1)
	}

	chargesService, err := charges.NewService(charges.ServiceParams{
		Repo:      billingRepo,
		Provider:  paystackClient,
		Customers: billingService,
		Currency:  cfg.Paystack.Currency,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create charge service", err)
		os.Exit(1)
	}

	webhookService, err := paystackwebhook.NewService(paystackwebhook.ServiceParams{
		Repo:           billingRepo,
		Subscriptions:  subscriptionsService,
		Charges:        chargesService,
		PaymentMethods: paymentMethodsService,
		Logger:         logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := paystackwebhook.NewIdempotencyGuard(redisClient, webhookDedupeTTL, "paystack-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
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
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			billingService,
			subscriptionsService,
			paymentMethodsService,
			chargesService,
			planCatalog,
			webhookService,
			webhookGuard,
		),
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-stopCtx.Done():
		logg.Info(ctx, "shutdown signal received, draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
			os.Exit(1)
		}
	}
	logg.Info(ctx, "api server stopped")
}
