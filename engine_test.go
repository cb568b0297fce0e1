package caselex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencaselaw/caselex/blobstore"
	"github.com/opencaselaw/caselex/snapshot"
)

func TestEngineEmpty(t *testing.T) {
	e := newTestEngine(t, nil)

	assert.False(t, e.Healthy())
	assert.Equal(t, snapshot.StateEmpty, e.State())
	assert.Equal(t, uint64(0), e.CurrentVersion())

	_, err := e.Stats()
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestEnginePublish(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 3, keywordEmbedder{}))

	assert.True(t, e.Healthy())
	assert.Equal(t, snapshot.StateServing, e.State())
	assert.Equal(t, uint64(3), e.CurrentVersion())

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats.Version)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 4, stats.Clauses)
	assert.Equal(t, 4, stats.Vectors)
}

func TestEnginePublishVersionRegression(t *testing.T) {
	e := newTestEngine(t, corpusSnapshot(t, 5, nil))

	err := e.Publish(corpusSnapshot(t, 5, nil))
	assert.True(t, IsInvalidSnapshot(err))

	err = e.Publish(corpusSnapshot(t, 4, nil))
	assert.True(t, IsInvalidSnapshot(err))

	assert.Equal(t, uint64(5), e.CurrentVersion())
}

func TestEnginePublishNil(t *testing.T) {
	e := newTestEngine(t, nil)

	err := e.Publish(nil)
	assert.True(t, IsInvalidSnapshot(err))
	assert.False(t, e.Healthy())
}

func TestEngineSaveAndOpen(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := newTestEngine(t, corpusSnapshot(t, 7, keywordEmbedder{}), WithEmbedder(keywordEmbedder{}))

	name, err := src.SaveSnapshot(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "snapshot-0000000000000007.clx", name)

	want, err := src.Search(ctx, "shouting fire")
	require.NoError(t, err)

	dst, err := Open(ctx, store, WithEmbedder(keywordEmbedder{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dst.Close() })

	assert.Equal(t, uint64(7), dst.CurrentVersion())

	got, err := dst.Search(ctx, "shouting fire")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEngineOpenEmptyStore(t *testing.T) {
	_, err := Open(context.Background(), blobstore.NewMemoryStore())
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestEngineLoadSnapshotByName(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := newTestEngine(t, corpusSnapshot(t, 2, nil))
	name, err := src.SaveSnapshot(ctx, store)
	require.NoError(t, err)

	dst := newTestEngine(t, nil)
	require.NoError(t, dst.LoadSnapshot(ctx, store, name))
	assert.Equal(t, uint64(2), dst.CurrentVersion())

	res, err := dst.Search(ctx, "free speech")
	require.NoError(t, err)
	assert.Len(t, res.Hits, 1)
}

func TestEngineSaveNotReady(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.SaveSnapshot(context.Background(), blobstore.NewMemoryStore())
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestEngineClose(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	require.NoError(t, e.Publish(corpusSnapshot(t, 1, nil)))

	require.NoError(t, e.Close())
	assert.Equal(t, snapshot.StateShuttingDown, e.State())

	_, serr := e.Search(context.Background(), "fire")
	assert.ErrorIs(t, serr, ErrShuttingDown)

	perr := e.Publish(corpusSnapshot(t, 2, nil))
	assert.ErrorIs(t, perr, ErrShuttingDown)

	require.NoError(t, e.Close())
}

// stallingEmbedder parks inside Embed until released, holding its
// search's admission slot open.
type stallingEmbedder struct {
	entered chan struct{}
	release chan struct{}
}

func (e *stallingEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.entered <- struct{}{}
	<-e.release
	return nil, errors.New("stalled")
}

func TestEngineQueriesInFlight(t *testing.T) {
	emb := &stallingEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
	e := newTestEngine(t, corpusSnapshot(t, 1, keywordEmbedder{}), WithEmbedder(emb))

	assert.Equal(t, int64(0), e.QueriesInFlight())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Search(context.Background(), "shouting fire")
		assert.NoError(t, err)
	}()

	<-emb.entered
	assert.Equal(t, int64(1), e.QueriesInFlight())

	close(emb.release)
	<-done
	assert.Equal(t, int64(0), e.QueriesInFlight())
}

func TestEngineMetrics(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	e := newTestEngine(t, corpusSnapshot(t, 1, nil), WithMetricsCollector(metrics))

	_, err := e.Search(context.Background(), "fire")
	require.NoError(t, err)
	_, err = e.Search(context.Background(), "")
	require.Error(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.SearchCount)
	assert.Equal(t, int64(1), stats.SearchErrors)
	assert.Equal(t, int64(1), stats.PublishCount)
}
