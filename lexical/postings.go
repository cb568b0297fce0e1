package lexical

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/opencaselaw/caselex/model"
)

// PostingList holds every occurrence of one term, ordered by document
// id then position. Docs mirrors the document ids of Postings as a
// bitmap so phrase resolution can intersect candidate documents before
// touching positions.
type PostingList struct {
	Docs     *roaring.Bitmap
	Postings []model.Posting
}

// Len returns the number of occurrences.
func (pl PostingList) Len() int { return len(pl.Postings) }

// Empty reports whether the list has no occurrences.
func (pl PostingList) Empty() bool { return len(pl.Postings) == 0 }

// newPostingList builds the doc bitmap for a validated posting slice.
func newPostingList(postings []model.Posting) PostingList {
	docs := roaring.New()
	for _, p := range postings {
		docs.Add(uint32(p.Doc))
	}
	return PostingList{Docs: docs, Postings: postings}
}

// comparePosting orders postings by (doc, position). Positions are
// document-stream token indexes, so this is a total order for one term.
func comparePosting(a, b model.Posting) int {
	switch {
	case a.Doc != b.Doc:
		if a.Doc < b.Doc {
			return -1
		}
		return 1
	case a.Position != b.Position:
		if a.Position < b.Position {
			return -1
		}
		return 1
	default:
		return 0
	}
}
