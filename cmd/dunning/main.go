package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/commerce"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/config"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/dunning"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/handler"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/infra/postgresql"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/infra/postgresql/migrations"
	infraredis "github.com/spencook/subscriptions-reference-app-sub001/internal/infra/redis"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/jobs"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/notify"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/observability"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/queue"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/repository"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/service"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/settings"
	"github.com/spencook/subscriptions-reference-app-sub001/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "dunning-engine"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: serviceName,
	})
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("dunning engine stopped", zap.Error(err))
	}
	logger.Info("dunning engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DatabaseMaxOpenConns,
		MaxIdleConns: cfg.DatabaseMaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL, serviceName)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, queue.Options{DeliveryLimit: cfg.RabbitMQDeliveryLimit})
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	jobConsumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)
	triggerConsumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)

	metrics := observability.NewMetrics()

	trackerRepo := repository.NewGormTrackerRepo(db)
	jobRepo := repository.NewGormJobRepo(db)

	lock, err := infraredis.NewLeaseLock(rdb)
	if err != nil {
		return err
	}
	scheduler, err := jobs.NewScheduler(jobRepo, publisher, jobs.SchedulerOptions{
		Interval:    cfg.JobScanInterval,
		MaxAttempts: cfg.JobMaxAttempts,
		Locker:      lock,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, infraredis.RateLimiterOptions{
		RatePerSec: cfg.CommerceRateLimitPerSec,
		Burst:      cfg.CommerceRateLimitBurst,
	})
	if err != nil {
		return err
	}
	commerceClient, err := commerce.NewClient(commerce.ClientOptions{
		URLTemplate: cfg.CommerceAPIURLTemplate,
		AccessToken: cfg.CommerceAccessToken,
		Limiter:     limiter,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	contracts, err := commerce.NewContracts(commerceClient, scheduler, logger)
	if err != nil {
		return err
	}

	notifier, err := notify.NewHTTPNotifier(cfg.NotifierURL, logger)
	if err != nil {
		return err
	}
	notifier.OnOutcome(func(recipient notify.Recipient, _ string, delivered bool) {
		metrics.IncNotification(string(recipient), delivered)
	})

	collaborators := dunning.Collaborators{
		Trackers:  trackerRepo,
		Contracts: contracts,
		Notifier:  notifier,
		Jobs:      scheduler,
		Logger:    logger,
	}
	claimMode := dunning.WithClaimMode(cfg.ClaimMode())
	paymentEngine, err := dunning.NewPaymentEngine(collaborators, claimMode)
	if err != nil {
		return err
	}
	inventoryEngine, err := dunning.NewInventoryEngine(collaborators, claimMode)
	if err != nil {
		return err
	}

	defaults, err := cfg.DefaultSettings()
	if err != nil {
		return err
	}
	provider, err := settings.LoadFile(cfg.ShopSettingsFile, defaults)
	if err != nil {
		return err
	}

	billingService, err := service.NewBillingFailureService(paymentEngine, inventoryEngine, provider, logger)
	if err != nil {
		return err
	}
	billingService.SetMetrics(metrics)

	adminService, err := service.NewAdminService(trackerRepo, jobRepo, logger)
	if err != nil {
		return err
	}

	handlers, err := jobs.Handlers(jobs.HandlerDeps{
		Billing:  contracts,
		Trackers: trackerRepo,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	worker, err := jobs.NewWorker(jobRepo, jobConsumer, handlers, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	trigger, err := service.NewTriggerConsumer(billingService, triggerConsumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:      serviceName,
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	handler.RegisterMetricsRoute(app, metrics)
	if err := handler.RegisterDunningRoutes(app, billingService, adminService); err != nil {
		return err
	}

	logger.Info("dunning engine started",
		zap.Int("port", cfg.APIPort),
		zap.String("claimMode", cfg.TrackerClaimMode),
		zap.Strings("configuredShops", provider.Shops()),
		zap.Int("jobKinds", len(handlers)),
		zap.String("defaultOnFailure", string(defaults.OnFailure)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Start(gctx) })
	g.Go(func() error { return worker.Start(gctx) })
	g.Go(func() error { return trigger.Start(gctx) })
	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
