package repository

import (
	"time"

	"github.com/ocecdr/cdrpush/internal/domain"
)

// BatchJobModel is the persistence model for the batch_job table.
type BatchJobModel struct {
	ID       int64            `gorm:"primaryKey;autoIncrement"`
	Name     string           `gorm:"type:varchar(255);not null"`
	Command  string           `gorm:"type:varchar(255);not null"`
	Status   domain.JobStatus `gorm:"type:varchar(20);not null"`
	Email    string           `gorm:"type:varchar(255)"`
	Progress string           `gorm:"type:text"`
	Started  time.Time        `gorm:"not null"`
	StatusAt time.Time        `gorm:"column:status_dt;not null"`
}

func (BatchJobModel) TableName() string {
	return "batch_job"
}

// BatchJobParmModel is one (job, name, value) row; multi-valued arguments
// occupy several rows with the same name.
type BatchJobParmModel struct {
	ID    int64  `gorm:"primaryKey;autoIncrement"`
	JobID int64  `gorm:"column:job;not null;index:idx_batch_job_parm_job"`
	Name  string `gorm:"type:varchar(255);not null"`
	Value string `gorm:"type:text;not null"`
}

func (BatchJobParmModel) TableName() string {
	return "batch_job_parm"
}

// PublishedDocModel tracks the gateway's view of each document: the exported
// body most recently prepared for it, whether the gateway has the document at
// all, and the force_push flag that disables its skip-identical-resend
// optimization.
type PublishedDocModel struct {
	DocID     int    `gorm:"column:doc_id;primaryKey"`
	DocType   string `gorm:"type:varchar(64);not null"`
	JobID     int64  `gorm:"column:job_id;not null"`
	XML       string `gorm:"column:xml;type:text"`
	ForcePush bool   `gorm:"column:force_push;not null;default:false"`
	IsNew     bool   `gorm:"column:is_new;not null;default:false"`
	UpdatedAt time.Time
}

func (PublishedDocModel) TableName() string {
	return "published_docs"
}

// DocVersionModel is one version of a repository document.
type DocVersionModel struct {
	DocID       int    `gorm:"column:doc_id;primaryKey"`
	Num         int    `gorm:"primaryKey"`
	DocType     string `gorm:"type:varchar(64);not null"`
	Publishable bool   `gorm:"not null;default:false"`
	Active      bool   `gorm:"not null;default:true"`
}

func (DocVersionModel) TableName() string {
	return "doc_versions"
}

// DocLinkModel is one directed inter-document reference.
type DocLinkModel struct {
	SourceID int `gorm:"column:source_id;primaryKey"`
	TargetID int `gorm:"column:target_id;primaryKey"`
}

func (DocLinkModel) TableName() string {
	return "doc_links"
}

// JobDocModel records the disposition of one document within one push job.
type JobDocModel struct {
	JobID   int64 `gorm:"column:job_id;primaryKey"`
	DocID   int   `gorm:"column:doc_id;primaryKey"`
	Version int   `gorm:"not null"`
	Failure bool  `gorm:"not null;default:false"`
	Removed bool  `gorm:"not null;default:false"`
}

func (JobDocModel) TableName() string {
	return "job_docs"
}

func jobModelFromDomain(j *domain.BatchJob) *BatchJobModel {
	if j == nil {
		return nil
	}

	return &BatchJobModel{
		ID:       j.ID,
		Name:     j.Name,
		Command:  j.Command,
		Status:   j.Status,
		Email:    j.Email,
		Progress: j.Progress,
		Started:  j.Started,
		StatusAt: j.StatusAt,
	}
}

func jobModelToDomain(m *BatchJobModel, parms []BatchJobParmModel) *domain.BatchJob {
	if m == nil {
		return nil
	}

	args := make(domain.JobArgs, len(parms))
	for _, parm := range parms {
		args[parm.Name] = append(args[parm.Name], parm.Value)
	}

	return &domain.BatchJob{
		ID:       m.ID,
		Name:     m.Name,
		Command:  m.Command,
		Args:     args,
		Email:    m.Email,
		Status:   m.Status,
		Progress: m.Progress,
		Started:  m.Started,
		StatusAt: m.StatusAt,
	}
}
