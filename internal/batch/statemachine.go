package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ocecdr/cdrpush/internal/domain"
	"github.com/ocecdr/cdrpush/internal/observability"
	"github.com/ocecdr/cdrpush/internal/repository"
	"go.uber.org/zap"
)

// defaultLivenessWindow bounds the advisory active-job check. A crashed job
// stuck in an active status stops counting once it ages out of the window.
const defaultLivenessWindow = 24 * time.Hour

// Manager governs the batch-job lifecycle: creation, authorized status
// transitions, progress reporting, and the idempotent failure path.
type Manager struct {
	jobs    repository.JobRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	window  time.Duration
	now     func() time.Time

	mu     sync.Mutex
	failed map[int64]bool
}

func NewManager(jobs repository.JobRepository, logger *zap.Logger) (*Manager, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		jobs:   jobs,
		logger: logger,
		window: defaultLivenessWindow,
		now:    time.Now,
		failed: make(map[int64]bool),
	}, nil
}

func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

// Create persists a new job in Queued status and returns its id. At most
// one active job per name: a duplicate is refused with ErrConflict, though
// the check is advisory and a concurrent creator can still slip through.
func (m *Manager) Create(ctx context.Context, name, command string, args domain.JobArgs, email string) (int64, error) {
	if name != "" {
		active, err := m.ActiveCount(ctx, name)
		if err != nil {
			return 0, err
		}
		if active > 0 {
			return 0, fmt.Errorf("%w: a job named %q is already active", domain.ErrConflict, name)
		}
	}

	now := m.now()
	job := &domain.BatchJob{
		Name:     name,
		Command:  command,
		Args:     args,
		Email:    email,
		Status:   domain.StatusQueued,
		Started:  now,
		StatusAt: now,
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return 0, err
	}

	observability.WithContextLogger(m.logger, ctx).Info("batch job queued",
		zap.Int64("jobId", job.ID),
		zap.String("name", name),
		zap.String("command", command),
	)
	return job.ID, nil
}

// Load fetches a job with its arguments.
func (m *Manager) Load(ctx context.Context, jobID int64) (*domain.BatchJob, error) {
	return m.jobs.GetByID(ctx, jobID)
}

// Transition validates authorization and precedence and then moves the job
// to newStatus in a single guarded update. Violations surface as
// InvalidTransitionError; they are never silently corrected.
func (m *Manager) Transition(ctx context.Context, jobID int64, newStatus domain.JobStatus, actor domain.Actor) error {
	if err := domain.AuthorizeTransition(actor, newStatus); err != nil {
		return err
	}

	job, err := m.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if err := domain.ValidatePrecedence(job.Status, newStatus); err != nil {
		observability.WithContextLogger(m.logger, ctx).Error("transition refused",
			zap.Int64("jobId", jobID),
			zap.String("current", job.Status.String()),
			zap.String("requested", newStatus.String()),
			zap.String("actor", actor.String()),
		)
		return err
	}

	if err := m.jobs.UpdateStatus(ctx, jobID, job.Status, newStatus); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Somebody changed the status between the read and the update.
			return &domain.InvalidTransitionError{Current: job.Status, Requested: newStatus}
		}
		return err
	}

	if m.metrics != nil {
		m.metrics.IncJobTransition(newStatus.String())
	}
	observability.WithContextLogger(m.logger, ctx).Info("batch job status changed",
		zap.Int64("jobId", jobID),
		zap.String("from", job.Status.String()),
		zap.String("to", newStatus.String()),
	)
	return nil
}

// SetProgress updates the job's status line. Best effort: a store failure
// is logged and swallowed, since losing one progress message never
// justifies killing a running push.
func (m *Manager) SetProgress(ctx context.Context, jobID int64, message string) {
	if err := m.jobs.SetProgress(ctx, jobID, message); err != nil {
		m.logger.Warn("unable to update progress message",
			zap.Int64("jobId", jobID),
			zap.Error(err),
		)
	}
}

// Fail records Aborted plus the reason. Idempotent: the first call for a
// job performs the transition; later calls only log, which keeps a failure
// during failure handling from recursing.
func (m *Manager) Fail(ctx context.Context, jobID int64, reason string) {
	m.mu.Lock()
	alreadyFailed := m.failed[jobID]
	m.failed[jobID] = true
	m.mu.Unlock()

	if alreadyFailed {
		m.logger.Error("batch job failure (already recorded)",
			zap.Int64("jobId", jobID),
			zap.String("reason", reason),
		)
		return
	}

	m.logger.Error("batch job failed",
		zap.Int64("jobId", jobID),
		zap.String("reason", reason),
	)

	if err := m.Transition(ctx, jobID, domain.StatusAborted, domain.ActorJobProcess); err != nil {
		m.logger.Error("unable to record aborted status",
			zap.Int64("jobId", jobID),
			zap.Error(err),
		)
		return
	}
	m.SetProgress(ctx, jobID, reason)
}

// ActiveCount reports how many jobs with a matching name are in an active
// status within the liveness window. The check is advisory: a second job
// can slip in between the count and a subsequent insert, and callers must
// treat a duplicate as a recoverable condition.
func (m *Manager) ActiveCount(ctx context.Context, namePattern string) (int64, error) {
	if namePattern == "" {
		namePattern = "%"
	}
	return m.jobs.ActiveCount(ctx, namePattern, m.window)
}

// List exposes the filtered job query for the monitor surface.
func (m *Manager) List(ctx context.Context, params repository.JobListParams) ([]domain.BatchJob, error) {
	return m.jobs.List(ctx, params)
}
