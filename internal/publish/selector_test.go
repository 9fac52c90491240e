package publish

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/ocecdr/cdrpush/internal/domain"
	"github.com/ocecdr/cdrpush/internal/repository"
)

func refIDs(refs []domain.DocumentRef) []int {
	ids := make([]int, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	sort.Ints(ids)
	return ids
}

func equalIDs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSelectorExplicitIDs(t *testing.T) {
	t.Parallel()

	docRepo := &stubDocRepo{latest: map[int]int{10: 4, 12: 1}}
	selector, err := NewSelector(docRepo, nil)
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}

	// 11 has no publishable version and must drop out quietly.
	refs, err := selector.Select(context.Background(), Criteria{DocIDs: []int{10, 11, 12, 10}})
	if err != nil {
		t.Fatalf("Select() unexpected error: %v", err)
	}

	if got := refIDs(refs); !equalIDs(got, []int{10, 12}) {
		t.Fatalf("selected = %v, want [10 12]", got)
	}
	for _, ref := range refs {
		if ref.ID == 10 && ref.Version != 4 {
			t.Fatalf("doc 10 version = %d, want latest publishable 4", ref.Version)
		}
	}
}

func TestSelectorPriorJobDocuments(t *testing.T) {
	t.Parallel()

	docRepo := &stubDocRepo{
		latest:  map[int]int{20: 1, 21: 2},
		jobDocs: map[int64][]int{7: {20, 21}},
	}
	selector, err := NewSelector(docRepo, nil)
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}

	refs, err := selector.Select(context.Background(), Criteria{JobIDs: []int64{7}, FailedOnly: true})
	if err != nil {
		t.Fatalf("Select() unexpected error: %v", err)
	}
	if got := refIDs(refs); !equalIDs(got, []int{20, 21}) {
		t.Fatalf("selected = %v, want [20 21]", got)
	}
}

func TestSelectorCriteriaValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		criteria Criteria
	}{
		{name: "no mode", criteria: Criteria{}},
		{name: "two modes", criteria: Criteria{DocIDs: []int{1}, DocType: "Summary"}},
	}

	selector, err := NewSelector(&stubDocRepo{}, nil)
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := selector.Select(context.Background(), tc.criteria)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Select() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestSelectorLinkExpansionFixedPoint(t *testing.T) {
	t.Parallel()

	// 1 -> 2 -> 3 -> 1 is a cycle; expansion must terminate and pull in
	// everything reachable exactly once.
	docRepo := &stubDocRepo{
		latest: map[int]int{1: 1},
		links: []repository.LinkPair{
			{SourceID: 1, TargetID: 2, TargetVersion: 3},
			{SourceID: 2, TargetID: 3, TargetVersion: 1},
			{SourceID: 3, TargetID: 1, TargetVersion: 1},
			{SourceID: 9, TargetID: 8, TargetVersion: 1},
		},
	}
	selector, err := NewSelector(docRepo, nil)
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}

	refs := []domain.DocumentRef{{ID: 1, Version: 1}}
	expanded, err := selector.ExpandLinkedDocuments(context.Background(), refs)
	if err != nil {
		t.Fatalf("ExpandLinkedDocuments() unexpected error: %v", err)
	}
	if got := refIDs(expanded); !equalIDs(got, []int{1, 2, 3}) {
		t.Fatalf("expanded = %v, want [1 2 3]: unreachable 8 must stay out", got)
	}
	for _, ref := range expanded {
		if ref.ID == 2 && ref.Version != 3 {
			t.Fatalf("doc 2 version = %d, want linked target version 3", ref.Version)
		}
	}

	again, err := selector.ExpandLinkedDocuments(context.Background(), expanded)
	if err != nil {
		t.Fatalf("ExpandLinkedDocuments() second pass error: %v", err)
	}
	if len(again) != len(expanded) {
		t.Fatalf("second expansion grew %d -> %d, want it idempotent", len(expanded), len(again))
	}
}

func TestSelectorMarkForcedPush(t *testing.T) {
	t.Parallel()

	docRepo := &stubDocRepo{onGW: map[int]bool{10: true}}
	selector, err := NewSelector(docRepo, nil)
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}

	refs := []domain.DocumentRef{{ID: 10, Version: 1}, {ID: 11, Version: 2}}
	if err := selector.MarkForcedPush(context.Background(), refs, false); err != nil {
		t.Fatalf("MarkForcedPush() unexpected error: %v", err)
	}

	if len(docRepo.forced) != 2 {
		t.Fatalf("flagged = %d, want 2", len(docRepo.forced))
	}
	for _, ref := range docRepo.forced {
		wantNew := ref.ID == 11
		if ref.IsNew != wantNew {
			t.Errorf("doc %d IsNew = %t, want %t", ref.ID, ref.IsNew, wantNew)
		}
	}

	if err := selector.MarkForcedPush(context.Background(), refs, true); err != nil {
		t.Fatalf("MarkForcedPush(treatNew) unexpected error: %v", err)
	}
	for _, ref := range docRepo.forced {
		if !ref.IsNew {
			t.Errorf("doc %d IsNew = false, want true when forced new", ref.ID)
		}
	}

	if err := selector.UnmarkForcedPush(context.Background(), refs); err != nil {
		t.Fatalf("UnmarkForcedPush() unexpected error: %v", err)
	}
	if got := docRepo.clearedIDs(); !equalIDs(got, []int{10, 11}) {
		t.Fatalf("cleared forced-push flags = %v, want [10 11]", got)
	}
}
