package caselex

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencaselaw/caselex/builder"
	"github.com/opencaselaw/caselex/model"
	"github.com/opencaselaw/caselex/snapshot"
)

// keywordEmbedder maps texts onto orthogonal unit axes so tests can
// steer which clauses a query lands near.
type keywordEmbedder struct {
	dim int
	err error
}

func (e keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	dim := e.dim
	if dim == 0 {
		dim = 8
	}

	axis := 3
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "fire"), strings.Contains(lower, "blaze"):
		axis = 0
	case strings.Contains(lower, "press"), strings.Contains(lower, "journalism"):
		axis = 1
	case strings.Contains(lower, "speech"):
		axis = 2
	}

	v := make([]float32, dim)
	v[axis] = 1
	return v, nil
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func corpusSnapshot(t *testing.T, version uint64, emb builder.Embedder) *snapshot.Snapshot {
	t.Helper()

	b := builder.New(func(o *builder.Options) {
		o.Version = version
		o.Embedder = emb
	})

	require.NoError(t, b.AddDocument(
		model.Document{
			ID:           1,
			Citation:     "249 U.S. 47",
			Court:        "scotus",
			DecisionDate: date(1919, time.March, 3),
			Title:        "Schenck v. United States",
		},
		[]model.Clause{
			{ID: 10, Doc: 1, Start: 0, End: 44, Text: "the most stringent protection of free speech"},
			{ID: 11, Doc: 1, Start: 45, End: 123, Text: "would not protect a man falsely shouting fire in a theatre and causing a panic"},
		},
	))
	require.NoError(t, b.AddDocument(
		model.Document{
			ID:           2,
			Citation:     "403 U.S. 713",
			Court:        "scotus",
			DecisionDate: date(1971, time.June, 30),
			Title:        "New York Times Co. v. United States",
		},
		[]model.Clause{
			{ID: 20, Doc: 2, Start: 0, End: 71, Text: "the press was protected so that it could bare the secrets of government"},
		},
	))
	require.NoError(t, b.AddDocument(
		model.Document{
			ID:           3,
			Citation:     "742 F.2d 1007",
			Court:        "ca9",
			DecisionDate: date(1984, time.August, 17),
			Title:        "United States v. Doe",
		},
		[]model.Clause{
			{ID: 30, Doc: 3, Start: 0, End: 28, Text: "a panic in a crowded theatre"},
		},
	))

	snap, err := b.Build(context.Background())
	require.NoError(t, err)
	return snap
}

func newTestEngine(t *testing.T, snap *snapshot.Snapshot, optFns ...Option) *Engine {
	t.Helper()

	e, err := New(optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	if snap != nil {
		require.NoError(t, e.Publish(snap))
	}
	return e
}

func TestSearchExactPhrase(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	res, err := e.Search(context.Background(), "free speech")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), res.Version)
	assert.False(t, res.Partial)
	require.Len(t, res.Hits, 1)

	hit := res.Hits[0]
	assert.Equal(t, model.DocumentID(1), hit.Document.ID)
	assert.Equal(t, model.ClauseID(10), hit.Clause.ID)
	assert.Equal(t, model.MatchExact, hit.Match)
	assert.InDelta(t, 1.0, hit.Score, 1e-6)
	assert.Equal(t, hit.Clause.Text, hit.Snippet)
}

func TestSearchSingleTerm(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	res, err := e.Search(context.Background(), "fire")
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, model.ClauseID(11), res.Hits[0].Clause.ID)
	assert.Equal(t, model.MatchExact, res.Hits[0].Match)
}

func TestSearchPrefix(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	// "spee" only expands to "speech", two runes longer.
	res, err := e.Search(context.Background(), "spee")
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, model.ClauseID(10), res.Hits[0].Clause.ID)
	assert.Equal(t, model.MatchPrefix, res.Hits[0].Match)
	assert.InDelta(t, 0.7, res.Hits[0].Score, 1e-6)
}

func TestSearchPhraseWithTrailingPrefix(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	res, err := e.Search(context.Background(), "free spee")
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, model.ClauseID(10), res.Hits[0].Clause.ID)
	assert.Equal(t, model.MatchPrefix, res.Hits[0].Match)
	assert.InDelta(t, 0.7, res.Hits[0].Score, 1e-6)
}

func TestSearchExactOutranksPrefix(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	// "protect" matches clause 11 exactly and expands to "protected"
	// (clause 20) and "protection" (clause 10).
	res, err := e.Search(context.Background(), "protect")
	require.NoError(t, err)
	require.Len(t, res.Hits, 3)

	assert.Equal(t, model.ClauseID(11), res.Hits[0].Clause.ID)
	assert.Equal(t, model.MatchExact, res.Hits[0].Match)
	for _, hit := range res.Hits[1:] {
		assert.Equal(t, model.MatchPrefix, hit.Match)
		assert.Less(t, hit.Score, res.Hits[0].Score)
	}
}

func TestSearchNoMatch(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	res, err := e.Search(context.Background(), "habeas")
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, uint64(1), res.Version)
}

func TestSearchNoTerms(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	res, err := e.Search(context.Background(), "!!! ---")
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, uint64(1), res.Version)
}

func TestSearchInvalidQuery(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	_, err := e.Search(context.Background(), "   ")
	assert.True(t, IsInvalidQuery(err))

	_, err = e.Search(context.Background(), strings.Repeat("x", 2048))
	assert.True(t, IsInvalidQuery(err))
}

func TestSearchNotReady(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Search(context.Background(), "fire")
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestSearchLimit(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	res, err := e.Search(context.Background(), "protect", WithLimit(1))
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, model.ClauseID(11), res.Hits[0].Clause.ID)
}

func TestSearchCourtFilter(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	res, err := e.Search(context.Background(), "theatre", WithCourts("scotus"))
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, model.ClauseID(11), res.Hits[0].Clause.ID)
}

func TestSearchDateFilter(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	res, err := e.Search(context.Background(), "theatre", WithDateRange(date(1950, time.January, 1), time.Time{}))
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, model.ClauseID(30), res.Hits[0].Clause.ID)
}

func TestSearchHybrid(t *testing.T) {
	emb := keywordEmbedder{}
	e := newTestEngine(t, corpusSnapshot(t, 1, emb), WithEmbedder(emb))

	res, err := e.Search(context.Background(), "shouting fire")
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)

	hit := res.Hits[0]
	assert.Equal(t, model.ClauseID(11), hit.Clause.ID)
	assert.Equal(t, model.MatchHybrid, hit.Match)
	assert.InDelta(t, 1.0, hit.Score, 1e-6)
}

func TestSearchVectorOnly(t *testing.T) {
	emb := keywordEmbedder{}
	e := newTestEngine(t, corpusSnapshot(t, 1, emb), WithEmbedder(emb))

	// "blaze" is absent from the vocabulary but embeds onto the same
	// axis as the shouting-fire clause.
	res, err := e.Search(context.Background(), "blaze")
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)

	hit := res.Hits[0]
	assert.Equal(t, model.ClauseID(11), hit.Clause.ID)
	assert.Equal(t, model.MatchVector, hit.Match)
	assert.InDelta(t, 0.8, hit.Score, 1e-6)
}

func TestSearchLexicalOnlyOption(t *testing.T) {
	emb := keywordEmbedder{}
	e := newTestEngine(t, corpusSnapshot(t, 1, emb), WithEmbedder(emb))

	res, err := e.Search(context.Background(), "blaze", WithLexicalOnly())
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestSearchEmbedderFailureDegrades(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, keywordEmbedder{}),
		WithEmbedder(keywordEmbedder{err: errors.New("backend down")}))

	res, err := e.Search(context.Background(), "shouting fire")
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, model.MatchExact, res.Hits[0].Match)
	assert.False(t, res.Partial)
}

func TestSearchDimensionMismatch(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, keywordEmbedder{}),
		WithEmbedder(keywordEmbedder{dim: 4}))

	_, err := e.Search(context.Background(), "shouting fire")
	require.Error(t, err)
	assert.True(t, IsDimensionMismatch(err))
}

func TestSearchDeterminism(t *testing.T) {
	emb := keywordEmbedder{}
	e := newTestEngine(t, corpusSnapshot(t, 1, emb), WithEmbedder(emb))

	first, err := e.Search(context.Background(), "protect")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := e.Search(context.Background(), "protect")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearchCanceledContext(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Search(ctx, "fire")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchDuringPublish(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 1, nil))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res, err := e.Search(context.Background(), "free speech")
				if !assert.NoError(t, err) {
					return
				}
				assert.Len(t, res.Hits, 1)
				assert.GreaterOrEqual(t, res.Version, uint64(1))
			}
		}()
	}

	for v := uint64(2); v <= 10; v++ {
		require.NoError(t, e.Publish(corpusSnapshot(t, v, nil)))
	}
	close(stop)
	wg.Wait()

	res, err := e.Search(context.Background(), "free speech")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.Version)
}

func TestTruncateSnippet(t *testing.T) {
	assert.Equal(t, "short", truncateSnippet("short", 10))
	assert.Equal(t, "aaaa…", truncateSnippet("aaaa bbbb", 5))
	assert.Equal(t, "exact", truncateSnippet("exact", 5))
	assert.Equal(t, "full text", truncateSnippet("full text", 0))
}
