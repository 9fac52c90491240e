package publish

import (
	"fmt"

	"github.com/ocecdr/cdrpush/internal/domain"
)

// DocumentError is a gateway refusal scoped to a single document. The push
// records it and keeps going; only transport-level failures end the job.
type DocumentError struct {
	DocID   int
	DocNum  int
	Message string
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s (number %d) refused: %s",
		domain.NormalizeDocID(e.DocID), e.DocNum, e.Message)
}
