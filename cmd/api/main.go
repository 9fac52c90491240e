package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ocecdr/cdrpush/internal/batch"
	"github.com/ocecdr/cdrpush/internal/config"
	"github.com/ocecdr/cdrpush/internal/handler"
	"github.com/ocecdr/cdrpush/internal/infra/postgresql"
	"github.com/ocecdr/cdrpush/internal/infra/postgresql/migrations"
	infraredis "github.com/ocecdr/cdrpush/internal/infra/redis"
	"github.com/ocecdr/cdrpush/internal/observability"
	"github.com/ocecdr/cdrpush/internal/queue"
	"github.com/ocecdr/cdrpush/internal/repository"
	"github.com/ocecdr/cdrpush/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "monitor-api")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, 25)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()

	metrics := observability.NewMetrics()

	jobRepo := repository.NewGormJobRepo(db)
	manager, err := batch.NewManager(jobRepo, logger)
	if err != nil {
		logger.Fatal("job manager initialization failed", zap.Error(err))
	}
	manager.SetMetrics(metrics)

	sweeper, err := batch.NewSweeper(jobRepo, manager, 0, 0, logger)
	if err != nil {
		logger.Fatal("sweeper initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterJobRoutes(app, manager, publisher, logger); err != nil {
		logger.Fatal("job route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("cdrpush api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	group.Go(func() error {
		return sweeper.Start(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("api terminated", zap.Error(err))
	}
}
