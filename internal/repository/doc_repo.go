package repository

import (
	"context"
	"fmt"

	"github.com/ocecdr/cdrpush/internal/domain"
	"gorm.io/gorm"
)

// excludedDocTypes never travel to the gateway; the link expansion and the
// push selection both skip them.
var excludedDocTypes = []string{
	"Citation",
	"Person",
	"Country",
	"Documentation",
	"Mailer",
	"MiscellaneousDocument",
	"SupplementaryInfo",
}

// LinkPair is one directed reference between two publishable documents,
// carrying the target's latest publishable version.
type LinkPair struct {
	SourceID      int
	TargetID      int
	TargetVersion int
}

// WorkDoc is one document staged for transfer in a push job. An empty XML
// body marks a removal transaction.
type WorkDoc struct {
	ID      int
	Version int
	DocType string
	IsNew   bool
	XML     string
}

type DocumentRepository interface {
	// LatestPublishableVersion returns the highest publishable version of an
	// active document, or domain.ErrNotFound when none exists.
	LatestPublishableVersion(ctx context.Context, docID int) (int, error)
	// OnGateway returns the set of document ids the gateway currently has.
	OnGateway(ctx context.Context) (map[int]bool, error)
	// JobDocs returns the non-removed documents of a prior push job,
	// optionally restricted to those marked as failures.
	JobDocs(ctx context.Context, jobID int64, failedOnly bool) ([]int, error)
	// DocsOfType returns either every publishable active document of the
	// type, or only those already on the gateway.
	DocsOfType(ctx context.Context, docType string, allPublishable bool) ([]int, error)
	// LinkPairs returns the reference edges restricted to publishable,
	// active, non-excluded targets.
	LinkPairs(ctx context.Context) ([]LinkPair, error)
	// WorkDocs returns the staged documents for a push job, exports first.
	WorkDocs(ctx context.Context, jobID int64) ([]WorkDoc, error)
	// StageJobDocs records the documents a queued push job will carry; the
	// job process later reads them back through WorkDocs.
	StageJobDocs(ctx context.Context, jobID int64, refs []domain.DocumentRef) error
	// SetForcedPush flags the given documents so the gateway will not skip
	// an identical resend, and records whether each is new downstream. A
	// document the gateway has never seen gets its tracking row seeded.
	SetForcedPush(ctx context.Context, refs []domain.DocumentRef) error
	// ClearForcedPush reverses SetForcedPush for the given documents only;
	// flags other requests set stay untouched.
	ClearForcedPush(ctx context.Context, refs []domain.DocumentRef) error
	// MarkFailure records a per-document failure for the job summary.
	MarkFailure(ctx context.Context, jobID int64, docID int) error
}

type GormDocRepo struct {
	db *gorm.DB
}

func NewGormDocRepo(db *gorm.DB) *GormDocRepo {
	return &GormDocRepo{db: db}
}

func (r *GormDocRepo) LatestPublishableVersion(ctx context.Context, docID int) (int, error) {
	var version *int
	err := r.db.WithContext(ctx).
		Model(&DocVersionModel{}).
		Select("MAX(num)").
		Where("doc_id = ? AND publishable = ? AND active = ?", docID, true, true).
		Scan(&version).Error
	if err != nil {
		return 0, err
	}
	if version == nil || *version == 0 {
		return 0, fmt.Errorf("%w: no publishable version for %s",
			domain.ErrNotFound, domain.NormalizeDocID(docID))
	}
	return *version, nil
}

func (r *GormDocRepo) OnGateway(ctx context.Context) (map[int]bool, error) {
	var ids []int
	err := r.db.WithContext(ctx).
		Model(&PublishedDocModel{}).
		Where("is_new = ?", false).
		Pluck("doc_id", &ids).Error
	if err != nil {
		return nil, err
	}

	onGateway := make(map[int]bool, len(ids))
	for _, id := range ids {
		onGateway[id] = true
	}
	return onGateway, nil
}

func (r *GormDocRepo) JobDocs(ctx context.Context, jobID int64, failedOnly bool) ([]int, error) {
	query := r.db.WithContext(ctx).
		Model(&JobDocModel{}).
		Where("job_id = ? AND removed = ?", jobID, false)
	if failedOnly {
		query = query.Where("failure = ?", true)
	}

	var ids []int
	if err := query.Pluck("doc_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormDocRepo) DocsOfType(ctx context.Context, docType string, allPublishable bool) ([]int, error) {
	var ids []int
	if allPublishable {
		err := r.db.WithContext(ctx).
			Model(&DocVersionModel{}).
			Distinct("doc_id").
			Where("doc_type = ? AND publishable = ? AND active = ?", docType, true, true).
			Order("doc_id").
			Pluck("doc_id", &ids).Error
		if err != nil {
			return nil, err
		}
		return ids, nil
	}

	err := r.db.WithContext(ctx).
		Model(&PublishedDocModel{}).
		Where("doc_type = ? AND is_new = ?", docType, false).
		Order("doc_id").
		Pluck("doc_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormDocRepo) LinkPairs(ctx context.Context) ([]LinkPair, error) {
	var pairs []LinkPair
	err := r.db.WithContext(ctx).
		Model(&DocLinkModel{}).
		Select("doc_links.source_id, doc_links.target_id, MAX(doc_versions.num) AS target_version").
		Joins("JOIN doc_versions ON doc_versions.doc_id = doc_links.target_id").
		Where("doc_versions.publishable = ? AND doc_versions.active = ?", true, true).
		Where("doc_versions.doc_type NOT IN ?", excludedDocTypes).
		Group("doc_links.source_id, doc_links.target_id").
		Scan(&pairs).Error
	if err != nil {
		return nil, err
	}
	return pairs, nil
}

func (r *GormDocRepo) WorkDocs(ctx context.Context, jobID int64) ([]WorkDoc, error) {
	var docs []WorkDoc
	err := r.db.WithContext(ctx).
		Model(&PublishedDocModel{}).
		Select("published_docs.doc_id AS id, job_docs.version, published_docs.doc_type, published_docs.is_new, published_docs.xml").
		Joins("JOIN job_docs ON job_docs.doc_id = published_docs.doc_id AND job_docs.job_id = ?", jobID).
		Where("published_docs.doc_type NOT IN ?", excludedDocTypes).
		Order("published_docs.xml = '' ASC, published_docs.doc_id").
		Scan(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *GormDocRepo) StageJobDocs(ctx context.Context, jobID int64, refs []domain.DocumentRef) error {
	if len(refs) == 0 {
		return nil
	}

	rows := make([]JobDocModel, len(refs))
	for i, ref := range refs {
		rows[i] = JobDocModel{JobID: jobID, DocID: ref.ID, Version: ref.Version}
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *GormDocRepo) SetForcedPush(ctx context.Context, refs []domain.DocumentRef) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ref := range refs {
			result := tx.Model(&PublishedDocModel{}).
				Where("doc_id = ?", ref.ID).
				Updates(map[string]any{
					"force_push": true,
					"is_new":     ref.IsNew,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				continue
			}

			// First contact with the gateway: seed the tracking row so the
			// new-document flag survives until the push consumes it.
			var docType string
			err := tx.Model(&DocVersionModel{}).
				Select("doc_type").
				Where("doc_id = ? AND num = ?", ref.ID, ref.Version).
				Scan(&docType).Error
			if err != nil {
				return err
			}
			if docType == "" {
				return fmt.Errorf("%w: document %s has no version %d to flag",
					domain.ErrNotFound, domain.NormalizeDocID(ref.ID), ref.Version)
			}
			seed := PublishedDocModel{
				DocID:     ref.ID,
				DocType:   docType,
				ForcePush: true,
				IsNew:     ref.IsNew,
			}
			if err := tx.Create(&seed).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormDocRepo) ClearForcedPush(ctx context.Context, refs []domain.DocumentRef) error {
	if len(refs) == 0 {
		return nil
	}

	ids := make([]int, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	return r.db.WithContext(ctx).
		Model(&PublishedDocModel{}).
		Where("doc_id IN ?", ids).
		Updates(map[string]any{
			"force_push": false,
			"is_new":     false,
		}).Error
}

func (r *GormDocRepo) MarkFailure(ctx context.Context, jobID int64, docID int) error {
	result := r.db.WithContext(ctx).
		Model(&JobDocModel{}).
		Where("job_id = ? AND doc_id = ?", jobID, docID).
		Update("failure", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: job %d has no document %s",
			domain.ErrNotFound, jobID, domain.NormalizeDocID(docID))
	}
	return nil
}
