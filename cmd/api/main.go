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
	"go.uber.org/multierr"

	"github.com/angelmondragon/shopbot-backend/api/routes"
	"github.com/angelmondragon/shopbot-backend/internal/channels"
	"github.com/angelmondragon/shopbot-backend/internal/delivery"
	"github.com/angelmondragon/shopbot-backend/internal/eligibility"
	"github.com/angelmondragon/shopbot-backend/internal/inventory"
	"github.com/angelmondragon/shopbot-backend/internal/ledger"
	"github.com/angelmondragon/shopbot-backend/internal/positions"
	"github.com/angelmondragon/shopbot-backend/internal/purchases"
	"github.com/angelmondragon/shopbot-backend/internal/settings"
	"github.com/angelmondragon/shopbot-backend/internal/users"
	"github.com/angelmondragon/shopbot-backend/pkg/config"
	"github.com/angelmondragon/shopbot-backend/pkg/db"
	"github.com/angelmondragon/shopbot-backend/pkg/env"
	"github.com/angelmondragon/shopbot-backend/pkg/instance"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	"github.com/angelmondragon/shopbot-backend/pkg/metrics"
	"github.com/angelmondragon/shopbot-backend/pkg/migrate"
	"github.com/angelmondragon/shopbot-backend/pkg/outbox"
	"github.com/angelmondragon/shopbot-backend/pkg/redis"
	"github.com/angelmondragon/shopbot-backend/pkg/resilience"
	"github.com/angelmondragon/shopbot-backend/pkg/telegram"
)

const readHeaderTimeout = 10 * time.Second

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

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, redisClient.Close())
	}()

	tg, err := telegram.New(cfg.Telegram)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	purchaseMetrics := metrics.NewPurchaseMetrics(registry)
	policy := resilience.PolicyFromConfig(cfg.Resilience)

	settingsLoader, err := settings.NewLoader(dbClient.DB(), settings.Defaults(cfg.Purchases), logg)
	if err != nil {
		return err
	}

	gate, err := eligibility.NewGate(eligibility.GateParams{
		Channels:    channels.NewRepository(dbClient.DB()),
		Checker:     tg,
		Policy:      policy,
		Concurrency: cfg.Purchases.GateConcurrency,
		Metrics:     purchaseMetrics,
		Logger:      logg,
	})
	if err != nil {
		return err
	}

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		return err
	}

	userRepo := users.NewRepository(dbClient.DB())
	positionRepo := positions.NewRepository(dbClient.DB())
	purchaseRepo := purchases.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	dispatcher, err := delivery.NewDispatcher(delivery.DispatcherParams{
		Tx:        dbClient,
		Purchases: purchaseRepo,
		Users:     userRepo,
		Positions: positionRepo,
		Sender:    tg,
		Outbox:    outboxService,
		Policy:    policy,
		Metrics:   purchaseMetrics,
		Logger:    logg,
	})
	if err != nil {
		return err
	}
	asyncDelivery, err := delivery.NewAsyncDispatcher(dispatcher, cfg.Delivery.Concurrency, cfg.Delivery.Timeout, logg)
	if err != nil {
		return err
	}

	purchaseService, err := purchases.NewService(purchases.ServiceParams{
		Tx:        dbClient,
		Users:     userRepo,
		Positions: positionRepo,
		Gate:      gate,
		Allocator: inventory.NewAllocator(dbClient.DB()),
		Ledger:    ledgerService,
		Purchases: purchaseRepo,
		Outbox:    outboxService,
		Delivery:  asyncDelivery,
		Metrics:   purchaseMetrics,
		Logger:    logg,
	})
	if err != nil {
		return err
	}

	addr := ":" + env.Get("PORT", cfg.App.Port)
	ctx := logg.WithFields(bootCtx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: readHeaderTimeout,
		Handler: routes.NewRouter(routes.Params{
			Config:     cfg,
			Logger:     logg,
			DB:         dbClient,
			Redis:      redisClient,
			Gatherer:   registry,
			Settings:   settingsLoader,
			Purchases:  purchaseService,
			Listing:    purchaseRepo,
			Users:      userRepo,
			Gate:       gate,
			Dispatcher: dispatcher,
		}),
	}

	sigCtx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-sigCtx.Done():
	}

	logg.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(bootCtx, cfg.Delivery.ShutdownGrace)
	defer cancel()

	err = multierr.Append(err, server.Shutdown(shutdownCtx))
	// In-flight deliveries finish after the listener stops accepting purchases.
	err = multierr.Append(err, asyncDelivery.Shutdown(shutdownCtx))
	return err
}
