package vector

import (
	"bytes"
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencaselaw/caselex/distance"
	"github.com/opencaselaw/caselex/model"
)

func randomUnitVectors(t *testing.T, n, dim int, seed int64) [][]float32 {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	vecs := make([][]float32, n)
	for i := range vecs {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		require.True(t, distance.NormalizeL2InPlace(v))
		vecs[i] = v
	}
	return vecs
}

func buildIndex(t *testing.T, vecs [][]float32) *Index {
	t.Helper()
	b := NewBuilder(len(vecs[0]))
	for i, v := range vecs {
		require.NoError(t, b.Add(model.ClauseID(i+1), v))
	}
	return b.Build()
}

func TestBuilderDimensionMismatch(t *testing.T) {
	b := NewBuilder(4)
	err := b.Add(1, []float32{1, 0, 0})

	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)
}

func TestBuilderDuplicateKey(t *testing.T) {
	b := NewBuilder(2)
	require.NoError(t, b.Add(7, []float32{1, 0}))
	require.Error(t, b.Add(7, []float32{0, 1}))
}

func TestQueryDimensionMismatch(t *testing.T) {
	// A query with dimension 256 against an index built with 384.
	vecs := randomUnitVectors(t, 8, 384, 1)
	idx := buildIndex(t, vecs)

	_, _, err := idx.Query(context.Background(), make([]float32, 256), 5, 0)

	var dimErr *ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 384, dimErr.Expected)
	assert.Equal(t, 256, dimErr.Actual)
}

func TestQueryEmptyIndex(t *testing.T) {
	idx := NewBuilder(4).Build()
	hits, partial, err := idx.Query(context.Background(), make([]float32, 4), 5, 0)
	require.NoError(t, err)
	assert.False(t, partial)
	assert.Empty(t, hits)
}

func TestQueryRecall(t *testing.T) {
	const (
		n   = 500
		dim = 16
		k   = 10
	)
	vecs := randomUnitVectors(t, n, dim, 42)
	idx := buildIndex(t, vecs)
	require.Equal(t, n, idx.Len())

	queries := randomUnitVectors(t, 20, dim, 43)

	var found, expected int
	for _, q := range queries {
		hits, _, err := idx.Query(context.Background(), q, k, 0)
		require.NoError(t, err)
		require.LessOrEqual(t, len(hits), k)

		// Scores are descending.
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}

		exact := bruteForce(vecs, q, k)
		got := make(map[model.ClauseID]bool, len(hits))
		for _, h := range hits {
			got[h.Clause] = true
		}
		for _, id := range exact {
			expected++
			if got[id] {
				found++
			}
		}
	}

	recall := float64(found) / float64(expected)
	assert.Greater(t, recall, 0.9, "recall %f too low", recall)
}

func bruteForce(vecs [][]float32, q []float32, k int) []model.ClauseID {
	type pair struct {
		id   model.ClauseID
		dist float32
	}
	pairs := make([]pair, len(vecs))
	for i, v := range vecs {
		pairs[i] = pair{id: model.ClauseID(i + 1), dist: distance.SquaredL2(v, q)}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		return pairs[i].id < pairs[j].id
	})
	ids := make([]model.ClauseID, 0, k)
	for _, p := range pairs[:k] {
		ids = append(ids, p.id)
	}
	return ids
}

func TestQueryDeterminism(t *testing.T) {
	vecs := randomUnitVectors(t, 200, 8, 7)
	idx := buildIndex(t, vecs)
	q := randomUnitVectors(t, 1, 8, 8)[0]

	first, _, err := idx.Query(context.Background(), q, 10, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, _, err := idx.Query(context.Background(), q, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestQueryBudgetPartial(t *testing.T) {
	vecs := randomUnitVectors(t, 300, 8, 11)
	idx := buildIndex(t, vecs)
	q := randomUnitVectors(t, 1, 8, 12)[0]

	// A tiny budget yields a best-effort partial result, not an error.
	hits, partial, err := idx.Query(context.Background(), q, 10, 3)
	require.NoError(t, err)
	assert.True(t, partial)
	assert.NotEmpty(t, hits)
}

func TestQueryExpiredDeadline(t *testing.T) {
	vecs := randomUnitVectors(t, 300, 8, 13)
	idx := buildIndex(t, vecs)
	q := randomUnitVectors(t, 1, 8, 14)[0]

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	hits, partial, err := idx.Query(ctx, q, 10, 0)
	require.NoError(t, err)
	assert.True(t, partial)
	_ = hits
}

func TestSimilarityBounds(t *testing.T) {
	// Identical normalized vectors: dist 0 -> similarity 1.
	assert.InDelta(t, 1.0, similarity(0), 1e-6)
	// Opposite normalized vectors: dist 4 -> similarity 0.
	assert.InDelta(t, 0.0, similarity(4), 1e-6)
	// Orthogonal: dist 2 -> similarity 0.5.
	assert.InDelta(t, 0.5, similarity(2), 1e-6)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	vecs := randomUnitVectors(t, 150, 8, 21)
	idx := buildIndex(t, vecs)

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	require.Equal(t, idx.Len(), loaded.Len())
	require.Equal(t, idx.Dimension(), loaded.Dimension())

	queries := randomUnitVectors(t, 10, 8, 22)
	for _, q := range queries {
		want, _, err := idx.Query(context.Background(), q, 10, 0)
		require.NoError(t, err)
		got, _, err := loaded.Query(context.Background(), q, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLoadCorrupt(t *testing.T) {
	vecs := randomUnitVectors(t, 20, 4, 31)
	idx := buildIndex(t, vecs)

	var buf bytes.Buffer
	require.NoError(t, idx.Save(&buf))

	_, err := Load(bytes.NewReader(buf.Bytes()[:16]))
	require.Error(t, err)
}

func TestForEachKey(t *testing.T) {
	vecs := randomUnitVectors(t, 5, 4, 41)
	idx := buildIndex(t, vecs)

	var keys []model.ClauseID
	idx.ForEachKey(func(id model.ClauseID) bool {
		keys = append(keys, id)
		return true
	})
	assert.Equal(t, []model.ClauseID{1, 2, 3, 4, 5}, keys)

	keys = keys[:0]
	idx.ForEachKey(func(id model.ClauseID) bool {
		keys = append(keys, id)
		return len(keys) < 2
	})
	assert.Len(t, keys, 2)
}
