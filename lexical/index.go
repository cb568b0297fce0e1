package lexical

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/opencaselaw/caselex/model"
)

// BuildError reports malformed vocabulary or postings at construction
// time. The affected term is included when one can be named.
type BuildError struct {
	Term   string
	Reason string
}

func (e *BuildError) Error() string {
	if e.Term == "" {
		return fmt.Sprintf("lexical: build failed: %s", e.Reason)
	}
	return fmt.Sprintf("lexical: build failed for term %q: %s", e.Term, e.Reason)
}

// Entry is one vocabulary term with its posting list, as supplied to
// Build. Entries must be sorted by term and deduplicated.
type Entry struct {
	Term     string
	Postings []model.Posting
}

// Index is the immutable lexical index of one snapshot.
type Index struct {
	terms    []string
	postings []PostingList
}

// Build constructs an Index from a sorted, deduplicated vocabulary.
// validDocs and validClauses are the id tables of the snapshot under
// construction; every posting must reference ids present in both.
//
// Build fails with *BuildError if the vocabulary is unsorted or
// contains duplicates or empty terms, if any posting list is empty or
// out of (doc, position) order, or if a posting references an unknown
// document or clause id.
func Build(entries []Entry, validDocs, validClauses *roaring.Bitmap) (*Index, error) {
	terms := make([]string, len(entries))
	postings := make([]PostingList, len(entries))

	for i, e := range entries {
		if e.Term == "" {
			return nil, &BuildError{Reason: "empty term"}
		}
		if i > 0 && entries[i-1].Term >= e.Term {
			return nil, &BuildError{Term: e.Term, Reason: "vocabulary not sorted and deduplicated"}
		}
		if len(e.Postings) == 0 {
			return nil, &BuildError{Term: e.Term, Reason: "empty posting list"}
		}

		for j, p := range e.Postings {
			if j > 0 && comparePosting(e.Postings[j-1], p) >= 0 {
				return nil, &BuildError{Term: e.Term, Reason: fmt.Sprintf("postings out of order at %s", p)}
			}
			if validDocs != nil && !validDocs.Contains(uint32(p.Doc)) {
				return nil, &BuildError{Term: e.Term, Reason: fmt.Sprintf("posting %s references unknown document", p)}
			}
			if validClauses != nil && !validClauses.Contains(uint32(p.Clause)) {
				return nil, &BuildError{Term: e.Term, Reason: fmt.Sprintf("posting %s references unknown clause", p)}
			}
		}

		terms[i] = e.Term
		postings[i] = newPostingList(slices.Clone(e.Postings))
	}

	return &Index{terms: terms, postings: postings}, nil
}

// Terms returns the vocabulary size.
func (idx *Index) Terms() int { return len(idx.terms) }

// Postings returns the total number of stored occurrences.
func (idx *Index) Postings() int {
	var n int
	for _, pl := range idx.postings {
		n += pl.Len()
	}
	return n
}

// ForEachPosting calls fn for every stored occurrence in term order,
// postings in (doc, position) order within a term. Iteration stops
// when fn returns false.
func (idx *Index) ForEachPosting(fn func(term string, p model.Posting) bool) {
	for i, term := range idx.terms {
		for _, p := range idx.postings[i].Postings {
			if !fn(term, p) {
				return
			}
		}
	}
}

// ExactLookup returns the posting list for term, or ok=false when the
// term is not in the vocabulary.
func (idx *Index) ExactLookup(term string) (PostingList, bool) {
	i, found := slices.BinarySearch(idx.terms, term)
	if !found {
		return PostingList{}, false
	}
	return idx.postings[i], true
}

// PrefixLookup returns a lazy iterator over all vocabulary terms
// starting with prefix, in ascending lexicographic order. The iterator
// is restartable and the caller may stop early at no extra cost.
func (idx *Index) PrefixLookup(prefix string) *PrefixIterator {
	start := sort.SearchStrings(idx.terms, prefix)
	return &PrefixIterator{idx: idx, prefix: prefix, start: start, next: start}
}

// PhraseLookup resolves an ordered term sequence to the postings of its
// first token: it intersects the per-term document bitmaps, then
// verifies consecutive positions within one clause. The result is empty
// if any term is absent from the vocabulary.
//
// The context deadline is honored at bounded intervals; on expiry the
// occurrences verified so far are returned with partial=true.
func (idx *Index) PhraseLookup(ctx context.Context, terms []string) (occurrences []model.Posting, partial bool) {
	if len(terms) == 0 {
		return nil, false
	}

	lists := make([]PostingList, len(terms))
	docSets := make([]*roaring.Bitmap, len(terms))
	for i, t := range terms {
		pl, ok := idx.ExactLookup(t)
		if !ok {
			return nil, false
		}
		lists[i] = pl
		docSets[i] = pl.Docs
	}

	if len(terms) == 1 {
		return lists[0].Postings, false
	}

	candidates := roaring.FastAnd(docSets...)
	if candidates.IsEmpty() {
		return nil, false
	}

	const deadlineCheckInterval = 1024

	for i, first := range lists[0].Postings {
		if i%deadlineCheckInterval == deadlineCheckInterval-1 && ctx.Err() != nil {
			return occurrences, true
		}
		if !candidates.Contains(uint32(first.Doc)) {
			continue
		}
		if idx.verifyPhrase(lists, first) {
			occurrences = append(occurrences, first)
		}
	}

	return occurrences, false
}

// verifyPhrase checks that every following term occurs at the next
// position of the same clause.
func (idx *Index) verifyPhrase(lists []PostingList, first model.Posting) bool {
	for i := 1; i < len(lists); i++ {
		want := model.Posting{
			Doc:      first.Doc,
			Clause:   first.Clause,
			Position: first.Position + uint32(i),
		}
		j, found := slices.BinarySearchFunc(lists[i].Postings, want, comparePosting)
		if !found || lists[i].Postings[j].Clause != first.Clause {
			return false
		}
	}
	return true
}

// PrefixIterator lazily enumerates the vocabulary terms sharing a
// prefix, in ascending lexicographic order. It holds no hidden mutable
// index state; re-issuing the same lookup yields the same sequence.
type PrefixIterator struct {
	idx    *Index
	prefix string
	start  int
	next   int
}

// Next returns the next matching term and its posting list.
// ok=false signals exhaustion.
func (it *PrefixIterator) Next() (term string, pl PostingList, ok bool) {
	if it.next >= len(it.idx.terms) {
		return "", PostingList{}, false
	}
	t := it.idx.terms[it.next]
	if !strings.HasPrefix(t, it.prefix) {
		return "", PostingList{}, false
	}
	it.next++
	return t, it.idx.postings[it.next-1], true
}

// Reset rewinds the iterator to the first match.
func (it *PrefixIterator) Reset() { it.next = it.start }
