package publish

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ocecdr/cdrpush/internal/batch"
	"github.com/ocecdr/cdrpush/internal/domain"
)

const defaultRepublishName = "Republish"

// RepublishRequest describes a forced re-push of documents the gateway
// already has, or should have.
type RepublishRequest struct {
	Criteria Criteria
	// ExpandLinks widens the selection with every linked document before
	// marking, so the re-push cannot leave dangling references behind.
	ExpandLinks bool
	// TreatNew marks every selected document new regardless of whether the
	// gateway holds a version, forcing a full re-establish.
	TreatNew bool
	JobName  string
	PubType  domain.PubType
	Email    string
}

// Republisher stages a forced re-push: it resolves the selection, flags the
// documents for forced transfer, queues the push job, and records the
// selection as that job's document set. A failure after flagging clears the
// flags again, so a rejected request leaves the staging table untouched.
type Republisher struct {
	selector *Selector
	jobs     *batch.Manager
	mailer   Mailer
	logger   *zap.Logger
}

func NewRepublisher(selector *Selector, jobs *batch.Manager, logger *zap.Logger) (*Republisher, error) {
	if selector == nil {
		return nil, fmt.Errorf("document selector is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Republisher{selector: selector, jobs: jobs, logger: logger}, nil
}

// SetMailer enables failure notices to the requester.
func (r *Republisher) SetMailer(mailer Mailer) { r.mailer = mailer }

// Republish runs the staging flow and returns the id of the queued push job.
func (r *Republisher) Republish(ctx context.Context, req RepublishRequest) (int64, error) {
	pubType := req.PubType
	if pubType == "" {
		pubType = domain.PubTypeHotfixExport
	}
	if !pubType.IsValid() {
		return 0, fmt.Errorf("%w: invalid pub type %q", domain.ErrValidation, req.PubType)
	}

	refs, err := r.selector.Select(ctx, req.Criteria)
	if err != nil {
		return 0, err
	}
	if req.ExpandLinks {
		refs, err = r.selector.ExpandLinkedDocuments(ctx, refs)
		if err != nil {
			return 0, err
		}
	}
	if len(refs) == 0 {
		return 0, fmt.Errorf("%w: selection matched no publishable documents", domain.ErrValidation)
	}

	if err := r.selector.MarkForcedPush(ctx, refs, req.TreatNew); err != nil {
		return 0, fmt.Errorf("flag documents for forced push: %w", err)
	}

	name := req.JobName
	if name == "" {
		name = defaultRepublishName
	}
	args := domain.JobArgs{"PubType": {string(pubType)}}

	jobID, err := r.jobs.Create(ctx, name, "batchjob", args, req.Email)
	if err != nil {
		r.cleanup(ctx, req, refs, err)
		return 0, fmt.Errorf("queue republish job: %w", err)
	}

	if err := r.selector.StageJobDocuments(ctx, jobID, refs); err != nil {
		r.jobs.Fail(ctx, jobID, fmt.Sprintf("stage documents: %v", err))
		r.cleanup(ctx, req, refs, err)
		return 0, fmt.Errorf("stage republish documents: %w", err)
	}

	r.logger.Info("republish job queued",
		zap.Int64("jobId", jobID),
		zap.String("pubType", string(pubType)),
		zap.Int("documents", len(refs)),
	)
	return jobID, nil
}

// cleanup backs out the forced-push flags this request set and tells the
// requester why nothing was queued.
func (r *Republisher) cleanup(ctx context.Context, req RepublishRequest, refs []domain.DocumentRef, cause error) {
	if err := r.selector.UnmarkForcedPush(ctx, refs); err != nil {
		r.logger.Error("failed to clear forced-push flags", zap.Error(err))
	}
	if r.mailer == nil || req.Email == "" {
		return
	}
	body := fmt.Sprintf("Republish request could not be queued: %v", cause)
	if err := r.mailer.Send(ctx, []string{req.Email}, "Republish request failed", body); err != nil {
		r.logger.Warn("failed to send republish failure notice", zap.Error(err))
	}
}
