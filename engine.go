package caselex

import (
	"context"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/opencaselaw/caselex/blobstore"
	"github.com/opencaselaw/caselex/resource"
	"github.com/opencaselaw/caselex/snapshot"
	"github.com/opencaselaw/caselex/tokenizer"
)

// Embedder turns query text into a fixed-dimension vector. It is an
// external capability: when it fails on a query, the engine degrades
// to lexical-only results instead of failing the search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine serves hybrid searches against the current snapshot. All
// methods are safe for concurrent use.
type Engine struct {
	opts    options
	manager *snapshot.Manager
	ctrl    *resource.Controller
	pool    *ants.Pool
	tok     *tokenizer.Tokenizer
}

// New creates an engine with no snapshot; Search returns
// ErrIndexNotReady until the first Publish.
func New(optFns ...Option) (*Engine, error) {
	opts := applyOptions(optFns)

	pool, err := ants.NewPool(opts.workerPoolSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		opts:    opts,
		manager: snapshot.NewManager(),
		ctrl: resource.NewController(resource.Config{
			MaxConcurrentQueries: opts.maxConcurrentQueries,
			QueryRatePerSec:      opts.queryRatePerSec,
		}),
		pool: pool,
		tok:  tokenizer.New(opts.tokenizerOptions...),
	}, nil
}

// Open creates an engine and publishes the newest valid bundle found
// in the store.
func Open(ctx context.Context, store blobstore.Store, optFns ...Option) (*Engine, error) {
	e, err := New(optFns...)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	snap, err := snapshot.LoadLatest(ctx, store, e.opts.codec)
	e.opts.metricsCollector.RecordBundleLoad(time.Since(start), err)
	e.opts.logger.LogBundle(ctx, "load", "latest", err)
	if err != nil {
		e.pool.Release()
		return nil, err
	}

	if err := e.Publish(snap); err != nil {
		e.pool.Release()
		return nil, err
	}
	return e, nil
}

// Publish validates snap and atomically makes it the serving
// snapshot. In-flight searches finish against the version they
// started on.
func (e *Engine) Publish(snap *snapshot.Snapshot) error {
	start := time.Now()
	err := e.manager.Publish(snap)
	e.opts.metricsCollector.RecordPublish(time.Since(start), err)

	var version uint64
	if snap != nil {
		version = snap.Version
	}
	e.opts.logger.LogPublish(context.Background(), version, err)
	return err
}

// SaveSnapshot writes the serving snapshot to the store as a bundle
// and returns the bundle name.
func (e *Engine) SaveSnapshot(ctx context.Context, store blobstore.Store) (string, error) {
	h, err := e.manager.AcquireRead()
	if err != nil {
		return "", err
	}
	defer h.Release()

	start := time.Now()
	name, err := snapshot.SaveToStore(ctx, store, h.Snapshot(), e.opts.codec)
	e.opts.metricsCollector.RecordBundleSave(time.Since(start), err)
	e.opts.logger.LogBundle(ctx, "save", name, err)
	return name, err
}

// LoadSnapshot loads one named bundle from the store and publishes it.
func (e *Engine) LoadSnapshot(ctx context.Context, store blobstore.Store, name string) error {
	start := time.Now()
	snap, err := snapshot.LoadFromStore(ctx, store, name, e.opts.codec)
	e.opts.metricsCollector.RecordBundleLoad(time.Since(start), err)
	e.opts.logger.LogBundle(ctx, "load", name, err)
	if err != nil {
		return err
	}
	return e.Publish(snap)
}

// Healthy reports whether the engine is serving a snapshot.
func (e *Engine) Healthy() bool {
	return e.manager.Healthy()
}

// State returns the engine's lifecycle phase.
func (e *Engine) State() snapshot.State {
	return e.manager.State()
}

// CurrentVersion returns the serving snapshot version, 0 when empty.
func (e *Engine) CurrentVersion() uint64 {
	return e.manager.CurrentVersion()
}

// QueriesInFlight returns the number of searches currently admitted.
func (e *Engine) QueriesInFlight() int64 {
	return e.ctrl.QueriesInFlight()
}

// Stats returns the serving snapshot's summary counters.
func (e *Engine) Stats() (snapshot.Stats, error) {
	h, err := e.manager.AcquireRead()
	if err != nil {
		return snapshot.Stats{}, err
	}
	defer h.Release()
	return h.Snapshot().Stats(), nil
}

// Close rejects new searches and blocks until in-flight searches
// finish. Idempotent.
func (e *Engine) Close() error {
	err := e.manager.Close()
	e.pool.Release()
	return err
}

// submit runs fn on the worker pool, inline if the pool is
// unavailable.
func (e *Engine) submit(fn func()) {
	if err := e.pool.Submit(fn); err != nil {
		fn()
	}
}
