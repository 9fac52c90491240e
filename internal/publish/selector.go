package publish

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ocecdr/cdrpush/internal/domain"
	"github.com/ocecdr/cdrpush/internal/repository"
)

// Criteria names the documents a push should carry. Exactly one of the three
// selection modes must be populated.
type Criteria struct {
	// DocIDs selects explicitly named documents.
	DocIDs []int
	// JobIDs selects the documents of prior push jobs. With FailedOnly set,
	// only the documents those jobs failed to transfer.
	JobIDs     []int64
	FailedOnly bool
	// DocType selects documents of one type. With AllPublishable set, every
	// active document that has a publishable version; otherwise only those
	// already on the gateway.
	DocType        string
	AllPublishable bool
}

func (c Criteria) validate() error {
	modes := 0
	if len(c.DocIDs) > 0 {
		modes++
	}
	if len(c.JobIDs) > 0 {
		modes++
	}
	if c.DocType != "" {
		modes++
	}
	if modes != 1 {
		return fmt.Errorf("%w: exactly one selection mode is required", domain.ErrValidation)
	}
	return nil
}

// Selector turns a selection request into a concrete set of document
// versions, optionally widened with the documents they link to.
type Selector struct {
	docs   repository.DocumentRepository
	logger *zap.Logger
}

func NewSelector(docs repository.DocumentRepository, logger *zap.Logger) (*Selector, error) {
	if docs == nil {
		return nil, fmt.Errorf("document repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{docs: docs, logger: logger}, nil
}

// Select resolves the criteria to documents with their latest publishable
// versions. Candidates without a publishable version are dropped quietly;
// asking for them is routine, not an error.
func (s *Selector) Select(ctx context.Context, criteria Criteria) ([]domain.DocumentRef, error) {
	if err := criteria.validate(); err != nil {
		return nil, err
	}

	var candidates []int
	switch {
	case len(criteria.DocIDs) > 0:
		candidates = criteria.DocIDs
	case len(criteria.JobIDs) > 0:
		for _, jobID := range criteria.JobIDs {
			ids, err := s.docs.JobDocs(ctx, jobID, criteria.FailedOnly)
			if err != nil {
				return nil, fmt.Errorf("load documents of job %d: %w", jobID, err)
			}
			candidates = append(candidates, ids...)
		}
	default:
		ids, err := s.docs.DocsOfType(ctx, criteria.DocType, criteria.AllPublishable)
		if err != nil {
			return nil, fmt.Errorf("load documents of type %s: %w", criteria.DocType, err)
		}
		candidates = ids
	}

	seen := make(map[int]bool, len(candidates))
	refs := make([]domain.DocumentRef, 0, len(candidates))
	for _, docID := range candidates {
		if seen[docID] {
			continue
		}
		seen[docID] = true

		version, err := s.docs.LatestPublishableVersion(ctx, docID)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("skipping document without publishable version",
				zap.String("doc", domain.NormalizeDocID(docID)),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, domain.DocumentRef{ID: docID, Version: version})
	}
	return refs, nil
}

// ExpandLinkedDocuments widens the selection with every document reachable
// through reference links, to a fixed point. Running it on an already
// expanded set adds nothing.
func (s *Selector) ExpandLinkedDocuments(ctx context.Context, refs []domain.DocumentRef) ([]domain.DocumentRef, error) {
	pairs, err := s.docs.LinkPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load link graph: %w", err)
	}

	targets := make(map[int][]repository.LinkPair)
	for _, pair := range pairs {
		targets[pair.SourceID] = append(targets[pair.SourceID], pair)
	}

	expanded := make([]domain.DocumentRef, len(refs))
	copy(expanded, refs)
	seen := make(map[int]bool, len(refs))
	for _, ref := range refs {
		seen[ref.ID] = true
	}

	// expanded doubles as the work queue; appended links get their own
	// links chased in turn.
	for i := 0; i < len(expanded); i++ {
		for _, pair := range targets[expanded[i].ID] {
			if seen[pair.TargetID] {
				continue
			}
			seen[pair.TargetID] = true
			expanded = append(expanded, domain.DocumentRef{
				ID:      pair.TargetID,
				Version: pair.TargetVersion,
			})
		}
	}

	if len(expanded) > len(refs) {
		s.logger.Info("link expansion widened selection",
			zap.Int("selected", len(refs)),
			zap.Int("linked", len(expanded)-len(refs)),
		)
	}
	return expanded, nil
}

// MarkForcedPush flags the documents so the gateway transfer will not skip
// an unchanged resend. Documents absent from the gateway are additionally
// marked new; treatNew forces that for every document.
func (s *Selector) MarkForcedPush(ctx context.Context, refs []domain.DocumentRef, treatNew bool) error {
	onGateway, err := s.docs.OnGateway(ctx)
	if err != nil {
		return fmt.Errorf("load gateway inventory: %w", err)
	}

	flagged := make([]domain.DocumentRef, len(refs))
	for i, ref := range refs {
		ref.IsNew = treatNew || !onGateway[ref.ID]
		flagged[i] = ref
	}
	return s.docs.SetForcedPush(ctx, flagged)
}

// UnmarkForcedPush clears the forced-push flags of the given documents.
// Callers invoke it when something fails after MarkForcedPush, so an
// aborted request leaves no residue behind; flags set by other requests
// stay put.
func (s *Selector) UnmarkForcedPush(ctx context.Context, refs []domain.DocumentRef) error {
	return s.docs.ClearForcedPush(ctx, refs)
}

// StageJobDocuments records the selection as the document set of a queued
// push job.
func (s *Selector) StageJobDocuments(ctx context.Context, jobID int64, refs []domain.DocumentRef) error {
	return s.docs.StageJobDocs(ctx, jobID, refs)
}
