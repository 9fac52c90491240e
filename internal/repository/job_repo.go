package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ocecdr/cdrpush/internal/domain"
	"gorm.io/gorm"
)

// JobListParams filters the job status query. At least one filter must be
// set; an unconstrained scan over the whole job table is almost always a
// caller bug.
type JobListParams struct {
	ID       *int64
	Name     string
	MaxAge   time.Duration
	Statuses []domain.JobStatus
}

func (p JobListParams) empty() bool {
	return p.ID == nil && p.Name == "" && p.MaxAge == 0 && len(p.Statuses) == 0
}

type JobRepository interface {
	Create(ctx context.Context, job *domain.BatchJob) error
	GetByID(ctx context.Context, id int64) (*domain.BatchJob, error)
	// UpdateStatus moves a job from expected current status to newStatus in
	// one guarded statement. A concurrent change of the current status
	// surfaces as domain.ErrConflict.
	UpdateStatus(ctx context.Context, id int64, current, newStatus domain.JobStatus) error
	SetProgress(ctx context.Context, id int64, message string) error
	// ActiveCount counts non-terminal jobs with a matching name younger than
	// the window. Advisory only; see batch.Manager.
	ActiveCount(ctx context.Context, namePattern string, window time.Duration) (int64, error)
	List(ctx context.Context, params JobListParams) ([]domain.BatchJob, error)
	// StaleActive returns non-terminal jobs whose status has not changed
	// within the window, for the sweeper.
	StaleActive(ctx context.Context, window time.Duration, limit int) ([]domain.BatchJob, error)
}

type GormJobRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db, now: time.Now}
}

func (r *GormJobRepo) Create(ctx context.Context, job *domain.BatchJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is required", domain.ErrValidation)
	}
	if err := job.Validate(); err != nil {
		return err
	}

	now := r.now()
	job.Status = domain.StatusQueued
	job.Started = now
	job.StatusAt = now

	model := jobModelFromDomain(job)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		for name, values := range job.Args {
			for _, value := range values {
				parm := BatchJobParmModel{JobID: model.ID, Name: name, Value: value}
				if err := tx.Create(&parm).Error; err != nil {
					return err
				}
			}
		}
		job.ID = model.ID
		return nil
	})
}

func (r *GormJobRepo) GetByID(ctx context.Context, id int64) (*domain.BatchJob, error) {
	var models []BatchJobModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Find(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: batch job %d", domain.ErrNotFound, id)
	}
	if len(models) > 1 {
		return nil, fmt.Errorf("%w: found %d batch jobs with id %d",
			domain.ErrConsistency, len(models), id)
	}

	var parms []BatchJobParmModel
	if err := r.db.WithContext(ctx).Where("job = ?", id).Find(&parms).Error; err != nil {
		return nil, err
	}

	return jobModelToDomain(&models[0], parms), nil
}

func (r *GormJobRepo) UpdateStatus(ctx context.Context, id int64, current, newStatus domain.JobStatus) error {
	result := r.db.WithContext(ctx).
		Model(&BatchJobModel{}).
		Where("id = ? AND status = ?", id, current).
		Updates(map[string]any{
			"status":    newStatus,
			"status_dt": r.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: job %d no longer in status %q",
			domain.ErrConflict, id, current)
	}
	return nil
}

func (r *GormJobRepo) SetProgress(ctx context.Context, id int64, message string) error {
	result := r.db.WithContext(ctx).
		Model(&BatchJobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"progress":  message,
			"status_dt": r.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: batch job %d", domain.ErrNotFound, id)
	}
	return nil
}

func (r *GormJobRepo) ActiveCount(ctx context.Context, namePattern string, window time.Duration) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&BatchJobModel{}).
		Where("status IN ?", domain.ActiveStatuses()).
		Where("name LIKE ?", namePattern).
		Where("started >= ?", r.now().Add(-window)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormJobRepo) List(ctx context.Context, params JobListParams) ([]domain.BatchJob, error) {
	if params.empty() {
		return nil, fmt.Errorf("%w: job status query without parameters", domain.ErrValidation)
	}

	query := r.db.WithContext(ctx).Model(&BatchJobModel{})
	if params.ID != nil {
		query = query.Where("id = ?", *params.ID)
	} else {
		if params.Name != "" {
			query = query.Where("name LIKE ?", "%"+params.Name+"%")
		}
		if params.MaxAge > 0 {
			query = query.Where("started >= ?", r.now().Add(-params.MaxAge))
		}
		if len(params.Statuses) > 0 {
			query = query.Where("status IN ?", params.Statuses)
		}
	}

	var models []BatchJobModel
	if err := query.Order("started").Find(&models).Error; err != nil {
		return nil, err
	}

	jobs := make([]domain.BatchJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i], nil))
	}
	return jobs, nil
}

func (r *GormJobRepo) StaleActive(ctx context.Context, window time.Duration, limit int) ([]domain.BatchJob, error) {
	var models []BatchJobModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", domain.ActiveStatuses()).
		Where("status_dt < ?", r.now().Add(-window)).
		Order("status_dt ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.BatchJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i], nil))
	}
	return jobs, nil
}
