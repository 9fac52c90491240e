package grouping

import (
	"regexp"
	"strconv"
	"unicode/utf8"

	"go.uber.org/zap"
)

// refPattern finds ref/href attribute values in the exported document body.
// A regex scan over the body is two orders of magnitude faster than XML
// parsing here and finds the same ids, because the export filters strip
// comments; if that ever changes the groupings only become more
// conservative, never wrong.
var refPattern = regexp.MustCompile(`(?:href|ref)=['"](CDR\d{10})`)

// Document is one member of a push job as seen by the grouper. New means the
// gateway does not yet have any version of the document. Body is the
// exported XML; removals have an empty body and never reference anything.
type Document struct {
	ID   int
	New  bool
	Body string
}

// Grouper partitions a push job's documents so that any document referencing
// a newly published document lands in the same group as that document. The
// gateway fails a whole group together, which keeps dangling references off
// the published site.
type Grouper struct {
	logger *zap.Logger
}

func NewGrouper(logger *zap.Logger) *Grouper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Grouper{logger: logger}
}

// Assignment is the computed document→group partition for one job. Group
// numbers are unique within the Assignment that produced them and are never
// reused across invocations of Assign.
type Assignment struct {
	groupOf  map[int]int
	members  map[int][]int
	newDocs  map[int]bool
	docCount int
	next     int
}

// Assign computes the partition. Runs in O(D·R) for D documents with R
// average outbound references: every body is scanned once and group lookup
// goes through the seed index, never a rescan.
func (g *Grouper) Assign(docs []Document) *Assignment {
	a := &Assignment{
		groupOf:  make(map[int]int, len(docs)),
		members:  make(map[int][]int),
		newDocs:  make(map[int]bool),
		docCount: len(docs),
		next:     1,
	}

	inJob := make(map[int]bool, len(docs))
	for _, doc := range docs {
		inJob[doc.ID] = true
		if doc.New {
			a.newDocs[doc.ID] = true
		}
	}

	for _, doc := range docs {
		// The document may already have a group if an earlier document
		// pulled it in as a referenced new doc.
		groupID := a.groupOf[doc.ID]

		for _, refID := range g.scanRefs(doc.ID, doc.Body) {
			// Only references to newly published members of this job bind
			// documents together.
			if !a.newDocs[refID] || !inJob[refID] {
				continue
			}

			refGroupID := a.groupOf[refID]
			switch {
			case refGroupID != 0 && groupID == 0:
				groupID = refGroupID
				a.add(groupID, doc.ID)
			case refGroupID != 0 && refGroupID != groupID:
				a.merge(groupID, refGroupID)
			case refGroupID != 0:
				// Repeated reference to a doc already in our group; no-op.
			case groupID != 0:
				a.add(groupID, refID)
			default:
				groupID = a.NewUniqueNum()
				a.add(groupID, doc.ID)
				a.add(groupID, refID)
			}
		}

		if groupID == 0 {
			a.add(a.NewUniqueNum(), doc.ID)
		}
	}

	return a
}

func (g *Grouper) scanRefs(docID int, body string) []int {
	if body == "" {
		return nil
	}
	if !utf8.ValidString(body) {
		g.logger.Warn("document body not scannable for references, treating as reference-free",
			zap.Int("docId", docID),
		)
		return nil
	}

	var refs []int
	seen := make(map[int]bool)
	for _, match := range refPattern.FindAllStringSubmatch(body, -1) {
		id, err := strconv.Atoi(match[1][3:])
		if err != nil {
			g.logger.Warn("skipping malformed document reference",
				zap.Int("docId", docID),
				zap.String("ref", match[1]),
			)
			continue
		}
		if id == docID || seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, id)
	}
	return refs
}

func (a *Assignment) add(groupID, docID int) {
	a.members[groupID] = append(a.members[groupID], docID)
	a.groupOf[docID] = groupID
}

// merge folds the src group into dst. Existing documents keep pointing at
// dst, so dst's member list is extended in place and src is deleted.
func (a *Assignment) merge(dst, src int) {
	for _, docID := range a.members[src] {
		a.groupOf[docID] = dst
	}
	a.members[dst] = append(a.members[dst], a.members[src]...)
	delete(a.members, src)
}

// DocGroup returns the group number assigned to a document.
func (a *Assignment) DocGroup(docID int) (int, bool) {
	groupID, found := a.groupOf[docID]
	return groupID, found
}

// NewUniqueNum hands out a group number that will not collide with any
// number already assigned or yet to be assigned by this Assignment. Used
// for removal transactions, which each get a group of their own.
func (a *Assignment) NewUniqueNum() int {
	n := a.next
	a.next++
	return n
}

// GroupIDs returns the group numbers currently in use.
func (a *Assignment) GroupIDs() []int {
	ids := make([]int, 0, len(a.members))
	for id := range a.members {
		ids = append(ids, id)
	}
	return ids
}

// Members returns the documents of one group.
func (a *Assignment) Members(groupID int) []int {
	return a.members[groupID]
}

// NewDocs returns the ids of the documents newly published in this job.
func (a *Assignment) NewDocs() []int {
	ids := make([]int, 0, len(a.newDocs))
	for id := range a.newDocs {
		ids = append(ids, id)
	}
	return ids
}

// IsNew reports whether the document was newly published in this job.
func (a *Assignment) IsNew(docID int) bool {
	return a.newDocs[docID]
}

// DocCount reports how many documents were processed.
func (a *Assignment) DocCount() int {
	return a.docCount
}

// NewDocCount reports how many documents were newly published.
func (a *Assignment) NewDocCount() int {
	return len(a.newDocs)
}
