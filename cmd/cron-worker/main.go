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

	"github.com/angelmondragon/shopbot-backend/internal/cron"
	"github.com/angelmondragon/shopbot-backend/internal/delivery"
	"github.com/angelmondragon/shopbot-backend/internal/positions"
	"github.com/angelmondragon/shopbot-backend/internal/purchases"
	"github.com/angelmondragon/shopbot-backend/internal/users"
	"github.com/angelmondragon/shopbot-backend/pkg/config"
	"github.com/angelmondragon/shopbot-backend/pkg/db"
	"github.com/angelmondragon/shopbot-backend/pkg/instance"
	"github.com/angelmondragon/shopbot-backend/pkg/logger"
	"github.com/angelmondragon/shopbot-backend/pkg/metrics"
	"github.com/angelmondragon/shopbot-backend/pkg/migrate"
	"github.com/angelmondragon/shopbot-backend/pkg/outbox"
	"github.com/angelmondragon/shopbot-backend/pkg/redis"
	"github.com/angelmondragon/shopbot-backend/pkg/resilience"
	"github.com/angelmondragon/shopbot-backend/pkg/telegram"
)

const serviceKind = "cron-worker"

func main() {
	bootLog := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.GetID(),
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeLogged(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeLogged(ctx, logg, "redis", redisClient.Close)

	jobs, err := buildJobs(cfg, logg, dbClient)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, lockKey(redisClient, cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   jobs,
		Lock:       lock,
		Metrics:    metrics.NewCronMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	logg.Info(ctx, "cron worker started")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildJobs registers the delivery sweeper and outbox retention.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	tg, err := telegram.New(cfg.Telegram)
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}

	conn := dbClient.DB()
	purchaseRepo := purchases.NewRepository(conn)
	dispatcher, err := delivery.NewDispatcher(delivery.DispatcherParams{
		Tx:        dbClient,
		Purchases: purchaseRepo,
		Users:     users.NewRepository(conn),
		Positions: positions.NewRepository(conn),
		Sender:    tg,
		Outbox:    outbox.NewService(outbox.NewRepository(conn), logg),
		Policy:    resilience.PolicyFromConfig(cfg.Resilience),
		Metrics:   metrics.NewPurchaseMetrics(prometheus.DefaultRegisterer),
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("delivery dispatcher: %w", err)
	}

	sweeper, err := cron.NewDeliverySweeperJob(cron.DeliverySweeperJobParams{
		Logger:       logg,
		Purchases:    purchaseRepo,
		Dispatcher:   dispatcher,
		MaxAttempts:  cfg.Delivery.MaxAttempts,
		PendingGrace: cfg.Delivery.PendingGrace,
		BatchSize:    cfg.Delivery.SweepBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("delivery sweeper: %w", err)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		DB:           dbClient,
		Repository:   outbox.NewRepository(conn),
		DLQ:          outbox.NewDLQRepository(conn),
		Retention:    cfg.Outbox.RetentionPeriod,
		DLQRetention: cfg.Outbox.DLQRetention,
		MinAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention: %w", err)
	}

	return cron.NewRegistry(sweeper, retention)
}

func lockKey(client *redis.Client, env string) string {
	if env == "" {
		env = "local"
	}
	return client.LockKey(fmt.Sprintf("cron-worker:%s", env))
}

func closeLogged(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(logg.WithField(ctx, "resource", name), "close failed", err)
	}
}
