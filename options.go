package caselex

import (
	"log/slog"
	"runtime"

	"github.com/opencaselaw/caselex/codec"
	"github.com/opencaselaw/caselex/merge"
	"github.com/opencaselaw/caselex/tokenizer"
)

type options struct {
	codec                codec.Codec
	logger               *Logger
	metricsCollector     MetricsCollector
	embedder             Embedder
	weights              merge.Weights
	maxConcurrentQueries int64
	queryRatePerSec      float64
	workerPoolSize       int
	maxPrefixExpansions  int
	searchBudget         int
	maxQueryBytes        int
	snippetRunes         int
	tokenizerOptions     []tokenizer.Option
}

// Option configures engine construction.
type Option func(*options)

// WithCodec configures the codec used for bundle metadata tables.
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
//
// Example:
//
//	metrics := &caselex.BasicMetricsCollector{}
//	engine, _ := caselex.New(caselex.WithMetricsCollector(metrics))
//	// ... serve traffic ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithEmbedder enables the semantic path. Without an embedder the
// engine serves lexical results only.
func WithEmbedder(e Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithMergeWeights overrides the hybrid scoring constants.
func WithMergeWeights(w merge.Weights) Option {
	return func(o *options) {
		o.weights = w
	}
}

// WithMaxConcurrentQueries bounds how many searches run at once.
func WithMaxConcurrentQueries(n int64) Option {
	return func(o *options) {
		o.maxConcurrentQueries = n
	}
}

// WithQueryRate caps admitted queries per second. 0 means unlimited.
func WithQueryRate(perSec float64) Option {
	return func(o *options) {
		o.queryRatePerSec = perSec
	}
}

// WithWorkerPoolSize sets the size of the pool running the lexical
// and vector subtasks of each search.
func WithWorkerPoolSize(n int) Option {
	return func(o *options) {
		o.workerPoolSize = n
	}
}

// WithMaxPrefixExpansions caps how many vocabulary terms a trailing
// prefix expands to.
func WithMaxPrefixExpansions(n int) Option {
	return func(o *options) {
		o.maxPrefixExpansions = n
	}
}

// WithSearchBudget caps the number of graph nodes one vector query
// may visit. 0 selects the index default. Exhausting the budget
// yields a partial result, never an error.
func WithSearchBudget(n int) Option {
	return func(o *options) {
		o.searchBudget = n
	}
}

// WithMaxQueryBytes bounds accepted query text length.
func WithMaxQueryBytes(n int) Option {
	return func(o *options) {
		o.maxQueryBytes = n
	}
}

// WithSnippetRunes bounds result snippet length.
func WithSnippetRunes(n int) Option {
	return func(o *options) {
		o.snippetRunes = n
	}
}

// WithTokenizerOptions passes options through to the query tokenizer.
// The same options must have been used when building the snapshot,
// or query terms will not line up with the vocabulary.
func WithTokenizerOptions(optFns ...tokenizer.Option) Option {
	return func(o *options) {
		o.tokenizerOptions = optFns
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:               NoopLogger(),
		metricsCollector:     NoopMetricsCollector{},
		weights:              merge.DefaultWeights(),
		maxConcurrentQueries: 64,
		workerPoolSize:       runtime.NumCPU(),
		maxPrefixExpansions:  32,
		maxQueryBytes:        1024,
		snippetRunes:         200,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.workerPoolSize < 1 {
		o.workerPoolSize = 1
	}
	if o.maxPrefixExpansions < 1 {
		o.maxPrefixExpansions = 1
	}
	return o
}
