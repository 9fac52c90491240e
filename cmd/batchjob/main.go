package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ocecdr/cdrpush/internal/batch"
	"github.com/ocecdr/cdrpush/internal/config"
	"github.com/ocecdr/cdrpush/internal/domain"
	"github.com/ocecdr/cdrpush/internal/gateway"
	"github.com/ocecdr/cdrpush/internal/infra/postgresql"
	infraredis "github.com/ocecdr/cdrpush/internal/infra/redis"
	"github.com/ocecdr/cdrpush/internal/mailer"
	"github.com/ocecdr/cdrpush/internal/observability"
	"github.com/ocecdr/cdrpush/internal/publish"
	"github.com/ocecdr/cdrpush/internal/repository"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <job-id>\n", os.Args[0])
		os.Exit(2)
	}
	jobID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil || jobID <= 0 {
		fmt.Fprintf(os.Stderr, "invalid job id %q: must be a positive integer\n", os.Args[1])
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "batchjob")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger, jobID); err != nil {
		logger.Error("push job failed", zap.Int64("job_id", jobID), zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, jobID int64) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, 4)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	target, err := domain.ParseTargetFromString(cfg.PushTarget)
	if err != nil {
		return err
	}

	jobRepo := repository.NewGormJobRepo(db)
	docRepo := repository.NewGormDocRepo(db)

	manager, err := batch.NewManager(jobRepo, logger)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	manager.SetMetrics(metrics)

	gk, err := gateway.NewClient(gateway.Config{
		Host:          cfg.GatekeeperHost,
		Scheme:        cfg.GatekeeperScheme,
		Source:        cfg.GatekeeperSource,
		RetryAttempts: cfg.GKRetryAttempts,
		RetryDelay:    time.Duration(cfg.GKRetryDelaySec) * time.Second,
	}, logger)
	if err != nil {
		return err
	}
	gk.SetMetrics(metrics)

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SendLimitPerSec)
	if err != nil {
		return err
	}

	reports, err := mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, logger)
	if err != nil {
		return err
	}

	orch, err := publish.NewOrchestrator(manager, docRepo, gk, target, logger)
	if err != nil {
		return err
	}
	orch.SetRateLimiter(limiter)
	orch.SetMailer(reports)
	orch.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return orch.Run(ctx, jobID)
}
