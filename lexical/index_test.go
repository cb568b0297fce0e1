package lexical

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencaselaw/caselex/model"
)

func p(doc, clause, pos uint32) model.Posting {
	return model.Posting{Doc: model.DocumentID(doc), Clause: model.ClauseID(clause), Position: pos}
}

func idSet(ids ...uint32) *roaring.Bitmap {
	return roaring.BitmapOf(ids...)
}

// testEntries is a small corpus over two documents:
//
//	doc 1, clause 10: "the most stringent protection of free speech"
//	doc 2, clause 20: "freedom of the press"
//
// Positions are document-stream token indexes.
func testEntries() []Entry {
	return []Entry{
		{Term: "free", Postings: []model.Posting{p(1, 10, 5)}},
		{Term: "freedom", Postings: []model.Posting{p(2, 20, 0)}},
		{Term: "most", Postings: []model.Posting{p(1, 10, 1)}},
		{Term: "of", Postings: []model.Posting{p(1, 10, 4), p(2, 20, 1)}},
		{Term: "press", Postings: []model.Posting{p(2, 20, 3)}},
		{Term: "protection", Postings: []model.Posting{p(1, 10, 3)}},
		{Term: "speech", Postings: []model.Posting{p(1, 10, 6)}},
		{Term: "stringent", Postings: []model.Posting{p(1, 10, 2)}},
		{Term: "the", Postings: []model.Posting{p(1, 10, 0), p(2, 20, 2)}},
	}
}

func buildTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Build(testEntries(), idSet(1, 2), idSet(10, 20))
	require.NoError(t, err)
	return idx
}

func TestBuildValidation(t *testing.T) {
	docs, clauses := idSet(1, 2), idSet(10, 20)

	tests := []struct {
		name    string
		entries []Entry
		reason  string
	}{
		{
			name:    "unsorted vocabulary",
			entries: []Entry{{Term: "b", Postings: []model.Posting{p(1, 10, 0)}}, {Term: "a", Postings: []model.Posting{p(1, 10, 1)}}},
			reason:  "not sorted",
		},
		{
			name:    "duplicate term",
			entries: []Entry{{Term: "a", Postings: []model.Posting{p(1, 10, 0)}}, {Term: "a", Postings: []model.Posting{p(1, 10, 1)}}},
			reason:  "not sorted",
		},
		{
			name:    "empty term",
			entries: []Entry{{Term: "", Postings: []model.Posting{p(1, 10, 0)}}},
			reason:  "empty term",
		},
		{
			name:    "empty postings",
			entries: []Entry{{Term: "a", Postings: nil}},
			reason:  "empty posting list",
		},
		{
			name:    "postings out of order",
			entries: []Entry{{Term: "a", Postings: []model.Posting{p(2, 20, 0), p(1, 10, 0)}}},
			reason:  "out of order",
		},
		{
			name:    "unknown document",
			entries: []Entry{{Term: "a", Postings: []model.Posting{p(9, 10, 0)}}},
			reason:  "unknown document",
		},
		{
			name:    "unknown clause",
			entries: []Entry{{Term: "a", Postings: []model.Posting{p(1, 99, 0)}}},
			reason:  "unknown clause",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.entries, docs, clauses)
			var buildErr *BuildError
			require.ErrorAs(t, err, &buildErr)
			assert.Contains(t, buildErr.Error(), tt.reason)
		})
	}
}

func TestExactLookup(t *testing.T) {
	idx := buildTestIndex(t)

	// Every vocabulary term resolves to a non-empty posting list.
	for _, e := range testEntries() {
		pl, ok := idx.ExactLookup(e.Term)
		require.True(t, ok, "term %q", e.Term)
		assert.Equal(t, e.Postings, pl.Postings, "term %q", e.Term)
		assert.False(t, pl.Empty())
	}

	// Anything outside the vocabulary is empty.
	for _, term := range []string{"", "zebra", "fre", "speeches"} {
		_, ok := idx.ExactLookup(term)
		assert.False(t, ok, "term %q", term)
	}
}

func TestForEachPosting(t *testing.T) {
	idx := buildTestIndex(t)

	// Full iteration visits every occurrence in term order.
	var got []model.Posting
	idx.ForEachPosting(func(term string, p model.Posting) bool {
		got = append(got, p)
		return true
	})
	var want []model.Posting
	for _, e := range testEntries() {
		want = append(want, e.Postings...)
	}
	assert.Equal(t, want, got)

	// Returning false stops the walk.
	var n int
	idx.ForEachPosting(func(string, model.Posting) bool {
		n++
		return n < 3
	})
	assert.Equal(t, 3, n)
}

func TestPrefixLookup(t *testing.T) {
	idx := buildTestIndex(t)

	collect := func(it *PrefixIterator) []string {
		var terms []string
		for {
			term, pl, ok := it.Next()
			if !ok {
				return terms
			}
			assert.False(t, pl.Empty())
			terms = append(terms, term)
		}
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{prefix: "free", want: []string{"free", "freedom"}},
		{prefix: "pr", want: []string{"press", "protection"}},
		{prefix: "s", want: []string{"speech", "stringent"}},
		{prefix: "zz", want: nil},
		{prefix: "", want: []string{"free", "freedom", "most", "of", "press", "protection", "speech", "stringent", "the"}},
	}

	for _, tt := range tests {
		it := idx.PrefixLookup(tt.prefix)
		assert.Equal(t, tt.want, collect(it), "prefix %q", tt.prefix)

		// Restartable: same sequence after Reset and on a fresh iterator.
		it.Reset()
		assert.Equal(t, tt.want, collect(it), "prefix %q after reset", tt.prefix)
		assert.Equal(t, tt.want, collect(idx.PrefixLookup(tt.prefix)), "prefix %q re-issued", tt.prefix)
	}
}

func TestPrefixLookupEarlyStop(t *testing.T) {
	idx := buildTestIndex(t)

	it := idx.PrefixLookup("")
	term, _, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, "free", term)
	// Stopping here is allowed; a new iterator is unaffected.
	term, _, ok = idx.PrefixLookup("").Next()
	require.True(t, ok)
	assert.Equal(t, "free", term)
}

func TestPhraseLookup(t *testing.T) {
	idx := buildTestIndex(t)
	ctx := context.Background()

	occ, partial := idx.PhraseLookup(ctx, []string{"free", "speech"})
	require.False(t, partial)
	require.Len(t, occ, 1)
	assert.Equal(t, p(1, 10, 5), occ[0])

	occ, partial = idx.PhraseLookup(ctx, []string{"freedom", "of", "the", "press"})
	require.False(t, partial)
	require.Len(t, occ, 1)
	assert.Equal(t, p(2, 20, 0), occ[0])

	// Absent term short-circuits to empty.
	occ, _ = idx.PhraseLookup(ctx, []string{"free", "zebra"})
	assert.Empty(t, occ)

	// Terms present but never adjacent.
	occ, _ = idx.PhraseLookup(ctx, []string{"speech", "free"})
	assert.Empty(t, occ)

	// Terms from disjoint documents never form a phrase.
	occ, _ = idx.PhraseLookup(ctx, []string{"speech", "freedom"})
	assert.Empty(t, occ)

	// Single term phrase is the exact posting list.
	occ, _ = idx.PhraseLookup(ctx, []string{"of"})
	assert.Equal(t, []model.Posting{p(1, 10, 4), p(2, 20, 1)}, occ)
}

func TestPhraseLookupExpiredDeadline(t *testing.T) {
	// Build a term pair with enough postings to cross the deadline poll
	// interval, then resolve with an already expired context.
	const n = 4096
	a := make([]model.Posting, n)
	b := make([]model.Posting, n)
	for i := 0; i < n; i++ {
		a[i] = p(1, 10, uint32(2*i))
		b[i] = p(1, 10, uint32(2*i+1))
	}
	idx, err := Build([]Entry{{Term: "aaa", Postings: a}, {Term: "bbb", Postings: b}}, idSet(1), idSet(10))
	require.NoError(t, err)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	occ, partial := idx.PhraseLookup(ctx, []string{"aaa", "bbb"})
	assert.True(t, partial)
	assert.Less(t, len(occ), n)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := buildTestIndex(t)

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)

	require.Equal(t, idx.Terms(), loaded.Terms())
	assert.Equal(t, idx.Postings(), loaded.Postings())

	for _, e := range testEntries() {
		pl, ok := loaded.ExactLookup(e.Term)
		require.True(t, ok, "term %q", e.Term)
		assert.Equal(t, e.Postings, pl.Postings)
		for _, posting := range e.Postings {
			assert.True(t, pl.Docs.Contains(uint32(posting.Doc)))
		}
	}

	// Phrase semantics survive the round trip.
	occ, _ := loaded.PhraseLookup(context.Background(), []string{"free", "speech"})
	require.Len(t, occ, 1)
	assert.Equal(t, p(1, 10, 5), occ[0])
}

func TestLoadTruncated(t *testing.T) {
	idx := buildTestIndex(t)

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))

	_, err := Load(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
	require.Error(t, err)
}
