package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ocecdr/cdrpush/internal/batch"
	"github.com/ocecdr/cdrpush/internal/domain"
	"github.com/ocecdr/cdrpush/internal/repository"
)

type failingCreateRepo struct {
	*stubJobRepo
}

func (r failingCreateRepo) Create(context.Context, *domain.BatchJob) error {
	return errors.New("insert failed")
}

type busyJobRepo struct {
	*stubJobRepo
}

func (r busyJobRepo) ActiveCount(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func newTestRepublisher(t *testing.T, jobRepo repository.JobRepository, docRepo *stubDocRepo) *Republisher {
	t.Helper()

	manager, err := batch.NewManager(jobRepo, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	selector, err := NewSelector(docRepo, nil)
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}
	rep, err := NewRepublisher(selector, manager, nil)
	if err != nil {
		t.Fatalf("NewRepublisher() error = %v", err)
	}
	return rep
}

func TestRepublisherQueuesJob(t *testing.T) {
	t.Parallel()

	jobRepo := newStubJobRepo()
	docRepo := &stubDocRepo{
		latest: map[int]int{10: 4, 11: 7},
		onGW:   map[int]bool{10: true},
	}
	rep := newTestRepublisher(t, jobRepo, docRepo)

	jobID, err := rep.Republish(context.Background(), RepublishRequest{
		Criteria: Criteria{DocIDs: []int{10, 11}},
		Email:    "requester@example.gov",
	})
	if err != nil {
		t.Fatalf("Republish() unexpected error: %v", err)
	}
	if jobID == 0 {
		t.Fatal("Republish() returned job id 0")
	}

	job, err := jobRepo.GetByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if job.Status != domain.StatusQueued {
		t.Fatalf("job status = %s, want %s", job.Status, domain.StatusQueued)
	}
	if got := job.Args.Get("PubType"); got != string(domain.PubTypeHotfixExport) {
		t.Fatalf("job PubType = %q, want %q", got, domain.PubTypeHotfixExport)
	}

	if len(docRepo.forced) != 2 {
		t.Fatalf("forced docs = %d, want 2", len(docRepo.forced))
	}
	isNew := map[int]bool{}
	for _, ref := range docRepo.forced {
		isNew[ref.ID] = ref.IsNew
	}
	if isNew[10] {
		t.Fatal("document 10 is on the gateway and must not be marked new")
	}
	if !isNew[11] {
		t.Fatal("document 11 is absent from the gateway and must be marked new")
	}

	if got := docRepo.staged[jobID]; !equalIDs(refIDs(got), []int{10, 11}) {
		t.Fatalf("staged documents = %v, want [10 11] recorded for job %d", refIDs(got), jobID)
	}
}

func TestRepublisherExpandsLinkedDocuments(t *testing.T) {
	t.Parallel()

	jobRepo := newStubJobRepo()
	docRepo := &stubDocRepo{
		latest: map[int]int{1: 3},
		links: []repository.LinkPair{
			{SourceID: 1, TargetID: 2, TargetVersion: 5},
		},
	}
	rep := newTestRepublisher(t, jobRepo, docRepo)

	if _, err := rep.Republish(context.Background(), RepublishRequest{
		Criteria:    Criteria{DocIDs: []int{1}},
		ExpandLinks: true,
	}); err != nil {
		t.Fatalf("Republish() unexpected error: %v", err)
	}

	if len(docRepo.forced) != 2 {
		t.Fatalf("forced docs = %d, want selection plus linked document", len(docRepo.forced))
	}
}

func TestRepublisherRejectsEmptySelection(t *testing.T) {
	t.Parallel()

	jobRepo := newStubJobRepo()
	docRepo := &stubDocRepo{latest: map[int]int{}}
	rep := newTestRepublisher(t, jobRepo, docRepo)

	_, err := rep.Republish(context.Background(), RepublishRequest{
		Criteria: Criteria{DocIDs: []int{99}},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Republish() error = %v, want ErrValidation", err)
	}
	if docRepo.forced != nil {
		t.Fatal("no documents should be flagged for an empty selection")
	}
}

func TestRepublisherCleansUpWhenJobCreationFails(t *testing.T) {
	t.Parallel()

	docRepo := &stubDocRepo{latest: map[int]int{10: 4}}
	rep := newTestRepublisher(t, failingCreateRepo{newStubJobRepo()}, docRepo)
	mailer := &stubMailer{}
	rep.SetMailer(mailer)

	_, err := rep.Republish(context.Background(), RepublishRequest{
		Criteria: Criteria{DocIDs: []int{10}},
		Email:    "requester@example.gov",
	})
	if err == nil {
		t.Fatal("Republish() expected error when job creation fails")
	}

	if got := docRepo.clearedIDs(); !equalIDs(got, []int{10}) {
		t.Fatalf("cleared forced-push flags = %v, want [10] after the failed job creation", got)
	}
	if len(mailer.subjects) != 1 {
		t.Fatalf("failure notices = %d, want 1", len(mailer.subjects))
	}
}

func TestRepublisherRejectsDuplicateActiveJob(t *testing.T) {
	t.Parallel()

	docRepo := &stubDocRepo{latest: map[int]int{10: 4}}
	rep := newTestRepublisher(t, busyJobRepo{newStubJobRepo()}, docRepo)

	_, err := rep.Republish(context.Background(), RepublishRequest{
		Criteria: Criteria{DocIDs: []int{10}},
		JobName:  "Weekly-Export",
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Republish() error = %v, want ErrConflict", err)
	}
	if got := docRepo.clearedIDs(); !equalIDs(got, []int{10}) {
		t.Fatalf("cleared forced-push flags = %v, want [10] after the duplicate refusal", got)
	}
	if len(docRepo.staged) != 0 {
		t.Fatal("no documents should be staged for a refused duplicate")
	}
}

func TestRepublisherFailsJobWhenStagingFails(t *testing.T) {
	t.Parallel()

	jobRepo := newStubJobRepo()
	docRepo := &stubDocRepo{
		latest:   map[int]int{10: 4},
		stageErr: errors.New("insert failed"),
	}
	rep := newTestRepublisher(t, jobRepo, docRepo)

	_, err := rep.Republish(context.Background(), RepublishRequest{
		Criteria: Criteria{DocIDs: []int{10}},
	})
	if err == nil {
		t.Fatal("Republish() expected error when document staging fails")
	}

	if got := jobRepo.status(1); got != domain.StatusAborted {
		t.Fatalf("job status = %s, want %s after a staging failure", got, domain.StatusAborted)
	}
	if got := docRepo.clearedIDs(); !equalIDs(got, []int{10}) {
		t.Fatalf("cleared forced-push flags = %v, want [10] after the staging failure", got)
	}
}
