package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ocecdr/cdrpush/internal/batch"
	"github.com/ocecdr/cdrpush/internal/domain"
	"github.com/ocecdr/cdrpush/internal/gateway"
	"github.com/ocecdr/cdrpush/internal/grouping"
	"github.com/ocecdr/cdrpush/internal/observability"
	"github.com/ocecdr/cdrpush/internal/ratelimit"
	"github.com/ocecdr/cdrpush/internal/repository"
)

// stopCheckInterval is how many document sends pass between looks at the
// job record for an externally requested stop.
const stopCheckInterval = 10

// Gateway is the outbound transfer port the orchestrator drives.
type Gateway interface {
	Initiate(ctx context.Context, pubType domain.PubType, target domain.Target) (*gateway.PubEventResult, error)
	SendDataProlog(ctx context.Context, jobID int64, pubType domain.PubType, target domain.Target, description string, lastJobID int64) (*gateway.PubEventResult, error)
	SendDocument(ctx context.Context, doc gateway.SendDocumentRequest) (*gateway.PubDataResult, error)
	SendJobComplete(ctx context.Context, jobID int64, pubType domain.PubType, docCount int, status string) (*gateway.PubEventResult, error)
}

// Mailer delivers the end-of-job report.
type Mailer interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// Orchestrator runs one push job end to end: group assignment, gateway
// negotiation, document transfer, and terminal bookkeeping.
type Orchestrator struct {
	jobs    *batch.Manager
	docs    repository.DocumentRepository
	gateway Gateway
	grouper *grouping.Grouper
	limiter ratelimit.RateLimiter
	mailer  Mailer
	logger  *zap.Logger
	metrics *observability.Metrics

	target domain.Target
}

func NewOrchestrator(
	jobs *batch.Manager,
	docs repository.DocumentRepository,
	gw Gateway,
	target domain.Target,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job manager is required")
	}
	if docs == nil {
		return nil, fmt.Errorf("document repository is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if !target.IsValid() {
		return nil, fmt.Errorf("%w: unknown push target %q", domain.ErrValidation, target)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		jobs:    jobs,
		docs:    docs,
		gateway: gw,
		grouper: grouping.NewGrouper(logger),
		target:  target,
		logger:  logger,
	}, nil
}

// SetRateLimiter caps document sends per push target. Unset means unthrottled.
func (o *Orchestrator) SetRateLimiter(limiter ratelimit.RateLimiter) { o.limiter = limiter }

// SetMailer enables the end-of-job email report.
func (o *Orchestrator) SetMailer(mailer Mailer) { o.mailer = mailer }

// SetMetrics attaches publishing metrics.
func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) { o.metrics = metrics }

// Run executes the push job. The job must be in the Initiating status; Run
// claims it, transfers every staged document, and leaves the job Completed,
// Stopped, or Aborted.
func (o *Orchestrator) Run(ctx context.Context, jobID int64) error {
	job, err := o.jobs.Load(ctx, jobID)
	if err != nil {
		return err
	}

	pubType, err := domain.ParsePubTypeFromString(job.Args.Get("PubType"))
	if err != nil {
		o.jobs.Fail(ctx, jobID, err.Error())
		return err
	}

	if err := o.jobs.Transition(ctx, jobID, domain.StatusInProcess, domain.ActorJobProcess); err != nil {
		return err
	}

	logger := o.logger.With(zap.Int64("job_id", jobID), zap.String("pub_type", string(pubType)))
	logger.Info("push job started", zap.String("target", string(o.target)))

	work, err := o.docs.WorkDocs(ctx, jobID)
	if err != nil {
		return o.abort(ctx, job, pubType, 0, nil, fmt.Sprintf("load staged documents: %v", err))
	}

	var exports, removals []repository.WorkDoc
	for _, doc := range work {
		if doc.XML == "" {
			removals = append(removals, doc)
		} else {
			exports = append(exports, doc)
		}
	}

	groupDocs := make([]grouping.Document, len(exports))
	for i, doc := range exports {
		groupDocs[i] = grouping.Document{ID: doc.ID, New: doc.IsNew, Body: doc.XML}
	}
	assignment := o.grouper.Assign(groupDocs)

	initiated, err := o.gateway.Initiate(ctx, pubType, o.target)
	if err != nil {
		return o.abort(ctx, job, pubType, 0, work, fmt.Sprintf("gateway initiate: %v", err))
	}
	if !initiated.OK() {
		return o.abort(ctx, job, pubType, 0, work,
			fmt.Sprintf("gateway not ready: %s (%s)", initiated.Type, initiated.Message))
	}

	lastJobID := o.resolveLastJobID(logger, job, initiated.LastJobID)

	description := job.Args.Get("Description")
	if description == "" {
		description = fmt.Sprintf("%s push job %d", pubType, jobID)
	}

	prolog, err := o.gateway.SendDataProlog(ctx, jobID, pubType, o.target, description, lastJobID)
	if err != nil {
		return o.abort(ctx, job, pubType, 0, work, fmt.Sprintf("gateway prolog: %v", err))
	}
	if !prolog.OK() {
		return o.abort(ctx, job, pubType, 0, work,
			fmt.Sprintf("gateway rejected job: %s (%s)", prolog.Type, prolog.Message))
	}

	total := len(exports) + len(removals)
	docNum := 0
	failed := 0

	for _, doc := range exports {
		stopped, err := o.checkStopped(ctx, jobID, docNum)
		if err != nil {
			return o.abort(ctx, job, pubType, docNum, work, err.Error())
		}
		if stopped {
			return o.stop(ctx, job, pubType, docNum, work)
		}

		group, ok := assignment.DocGroup(doc.ID)
		if !ok {
			group = assignment.NewUniqueNum()
		}
		docNum++
		sendErr := o.sendOne(ctx, gateway.SendDocumentRequest{
			JobID:       jobID,
			DocNum:      docNum,
			Transaction: domain.TransactionExport,
			DocType:     doc.DocType,
			DocID:       doc.ID,
			Version:     doc.Version,
			Group:       group,
			Body:        doc.XML,
		})
		if sendErr != nil {
			if isFatal(sendErr) {
				return o.abort(ctx, job, pubType, docNum, work,
					fmt.Sprintf("send %s: %v", domain.NormalizeDocID(doc.ID), sendErr))
			}
			failed++
			o.recordFailure(ctx, logger, jobID, doc.ID, sendErr)
		}
		o.jobs.SetProgress(ctx, jobID, fmt.Sprintf("sent %d of %d documents", docNum, total))
	}

	// Removals never share a group with anything; each gets a number no
	// export group holds.
	for _, doc := range removals {
		stopped, err := o.checkStopped(ctx, jobID, docNum)
		if err != nil {
			return o.abort(ctx, job, pubType, docNum, work, err.Error())
		}
		if stopped {
			return o.stop(ctx, job, pubType, docNum, work)
		}

		docNum++
		sendErr := o.sendOne(ctx, gateway.SendDocumentRequest{
			JobID:       jobID,
			DocNum:      docNum,
			Transaction: domain.TransactionRemove,
			DocType:     doc.DocType,
			DocID:       doc.ID,
			Version:     doc.Version,
			Group:       assignment.NewUniqueNum(),
		})
		if sendErr != nil {
			if isFatal(sendErr) {
				return o.abort(ctx, job, pubType, docNum, work,
					fmt.Sprintf("remove %s: %v", domain.NormalizeDocID(doc.ID), sendErr))
			}
			failed++
			o.recordFailure(ctx, logger, jobID, doc.ID, sendErr)
		}
		o.jobs.SetProgress(ctx, jobID, fmt.Sprintf("sent %d of %d documents", docNum, total))
	}

	if _, err := o.gateway.SendJobComplete(ctx, jobID, pubType, docNum, "complete"); err != nil {
		return o.abort(ctx, job, pubType, docNum, work, fmt.Sprintf("gateway complete: %v", err))
	}
	if err := o.jobs.Transition(ctx, jobID, domain.StatusCompleted, domain.ActorJobProcess); err != nil {
		return err
	}

	logger.Info("push job completed",
		zap.Int("documents", docNum),
		zap.Int("failures", failed),
	)
	o.mailReport(ctx, job, fmt.Sprintf("Push job %d completed", jobID),
		fmt.Sprintf("Job %d (%s to %s) transferred %d of %d documents; %d failed.",
			jobID, pubType, o.target, docNum-failed, total, failed))
	return nil
}

// resolveLastJobID reconciles the job ID the gateway last saw with the one
// recorded locally. The gateway's answer wins; a mismatch only means pushes
// happened that this system did not record.
func (o *Orchestrator) resolveLastJobID(logger *zap.Logger, job *domain.BatchJob, reported int64) int64 {
	recorded := job.Args.Get("LastJobID")
	if recorded == "" {
		return reported
	}
	if local := atoi64(recorded); local != reported {
		logger.Warn("last push job mismatch, deferring to gateway",
			zap.Int64("recorded", atoi64(recorded)),
			zap.Int64("reported", reported),
		)
	}
	return reported
}

func (o *Orchestrator) sendOne(ctx context.Context, req gateway.SendDocumentRequest) error {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, string(o.target)); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	result, err := o.gateway.SendDocument(ctx, req)
	if err != nil {
		return err
	}
	if !result.OK() {
		return &DocumentError{
			DocID:   req.DocID,
			DocNum:  req.DocNum,
			Message: fmt.Sprintf("%s (%s)", result.Type, result.Message),
		}
	}
	if result.DocNum != req.DocNum {
		return fmt.Errorf("%w: sent document %d, gateway acknowledged %d",
			gateway.ErrProtocol, req.DocNum, result.DocNum)
	}
	if o.metrics != nil {
		o.metrics.IncDocPushed(string(req.Transaction))
	}
	return nil
}

// isFatal decides whether a send failure ends the whole job. Losing the
// connection does; a refusal scoped to one document does not.
func isFatal(err error) bool {
	var transportErr *gateway.TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) recordFailure(ctx context.Context, logger *zap.Logger, jobID int64, docID int, sendErr error) {
	logger.Error("document transfer failed",
		zap.String("doc", domain.NormalizeDocID(docID)),
		zap.Error(sendErr),
	)
	if o.metrics != nil {
		o.metrics.IncDocFailed()
	}
	if err := o.docs.MarkFailure(ctx, jobID, docID); err != nil {
		logger.Warn("failed to record document failure", zap.Error(err))
	}
}

// checkStopped polls for an external stop request every stopCheckInterval
// documents.
func (o *Orchestrator) checkStopped(ctx context.Context, jobID int64, docNum int) (bool, error) {
	if docNum%stopCheckInterval != 0 {
		return false, nil
	}
	job, err := o.jobs.Load(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("poll job status: %w", err)
	}
	return job.Status == domain.StatusStop, nil
}

func (o *Orchestrator) stop(ctx context.Context, job *domain.BatchJob, pubType domain.PubType, docNum int, work []repository.WorkDoc) error {
	if _, err := o.gateway.SendJobComplete(ctx, job.ID, pubType, docNum, "abort"); err != nil {
		o.logger.Warn("failed to abort gateway job", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	o.clearForcedFlags(ctx, work)
	if err := o.jobs.Transition(ctx, job.ID, domain.StatusStopped, domain.ActorJobProcess); err != nil {
		return err
	}
	o.logger.Info("push job stopped on request",
		zap.Int64("job_id", job.ID),
		zap.Int("documents_sent", docNum),
	)
	o.mailReport(ctx, job, fmt.Sprintf("Push job %d stopped", job.ID),
		fmt.Sprintf("Job %d was stopped on request after %d documents.", job.ID, docNum))
	return nil
}

func (o *Orchestrator) abort(ctx context.Context, job *domain.BatchJob, pubType domain.PubType, docNum int, work []repository.WorkDoc, reason string) error {
	if docNum > 0 {
		if _, err := o.gateway.SendJobComplete(ctx, job.ID, pubType, docNum, "abort"); err != nil {
			o.logger.Warn("failed to abort gateway job", zap.Int64("job_id", job.ID), zap.Error(err))
		}
	}
	o.clearForcedFlags(ctx, work)
	o.jobs.Fail(ctx, job.ID, reason)
	o.mailReport(ctx, job, fmt.Sprintf("Push job %d failed", job.ID),
		fmt.Sprintf("Job %d was aborted: %s", job.ID, reason))
	return fmt.Errorf("push job %d aborted: %s", job.ID, reason)
}

// clearForcedFlags reverses the staging flags of this job's documents, so a
// push that did not complete leaves no forced-resend residue behind.
func (o *Orchestrator) clearForcedFlags(ctx context.Context, work []repository.WorkDoc) {
	if len(work) == 0 {
		return
	}
	refs := make([]domain.DocumentRef, len(work))
	for i, doc := range work {
		refs[i] = domain.DocumentRef{ID: doc.ID, Version: doc.Version}
	}
	if err := o.docs.ClearForcedPush(ctx, refs); err != nil {
		o.logger.Warn("failed to clear forced-push flags", zap.Error(err))
	}
}

func (o *Orchestrator) mailReport(ctx context.Context, job *domain.BatchJob, subject, body string) {
	if o.mailer == nil {
		return
	}
	recipients := job.EmailList()
	if len(recipients) == 0 {
		return
	}
	if err := o.mailer.Send(ctx, recipients, subject, body); err != nil {
		o.logger.Warn("failed to send job report",
			zap.Int64("job_id", job.ID),
			zap.Error(err),
		)
	}
}

func atoi64(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
