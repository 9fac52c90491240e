package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/ocecdr/cdrpush/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = time.Hour
	defaultSweepLimit    = 100
)

// Sweeper periodically aborts jobs stuck in an active status beyond the
// liveness window, so a crashed process does not block its job name forever.
type Sweeper struct {
	jobs     repository.JobRepository
	manager  *Manager
	logger   *zap.Logger
	interval time.Duration
	window   time.Duration
	limit    int
}

func NewSweeper(
	jobs repository.JobRepository,
	manager *Manager,
	interval time.Duration,
	window time.Duration,
	logger *zap.Logger,
) (*Sweeper, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if manager == nil {
		return nil, fmt.Errorf("batch manager is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if window <= 0 {
		window = defaultLivenessWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		jobs:     jobs,
		manager:  manager,
		logger:   logger,
		interval: interval,
		window:   window,
		limit:    defaultSweepLimit,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("stale job initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("stale job sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	stale, err := s.jobs.StaleActive(ctx, s.window, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch stale jobs: %w", err)
	}

	for i := range stale {
		job := stale[i]
		s.logger.Warn("aborting stale batch job",
			zap.Int64("jobId", job.ID),
			zap.String("name", job.Name),
			zap.String("status", job.Status.String()),
			zap.Time("statusAt", job.StatusAt),
		)
		reason := fmt.Sprintf("aborted by sweeper: no status change since %s",
			job.StatusAt.Format(time.RFC3339))
		s.manager.Fail(ctx, job.ID, reason)
	}

	return nil
}
