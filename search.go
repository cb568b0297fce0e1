package caselex

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/opencaselaw/caselex/distance"
	"github.com/opencaselaw/caselex/lexical"
	"github.com/opencaselaw/caselex/merge"
	"github.com/opencaselaw/caselex/model"
	"github.com/opencaselaw/caselex/snapshot"
)

const defaultLimit = 10

// vectorOverfetch widens the ANN candidate set so post-merge filters
// still have enough material to fill the limit.
const vectorOverfetch = 4

type searchOptions struct {
	limit       int
	filters     merge.Filters
	lexicalOnly bool
}

// SearchOption configures a single search.
type SearchOption func(*searchOptions)

// WithLimit sets the maximum number of results returned.
func WithLimit(n int) SearchOption {
	return func(o *searchOptions) {
		o.limit = n
	}
}

// WithCourts restricts results to documents from the given courts.
func WithCourts(courts ...string) SearchOption {
	return func(o *searchOptions) {
		o.filters.Courts = courts
	}
}

// WithDateRange restricts results to documents decided in [from, to].
// A zero from or to leaves that bound open.
func WithDateRange(from, to time.Time) SearchOption {
	return func(o *searchOptions) {
		o.filters.From = from
		o.filters.To = to
	}
}

// WithLexicalOnly skips the semantic path for this search even when
// an embedder is configured.
func WithLexicalOnly() SearchOption {
	return func(o *searchOptions) {
		o.lexicalOnly = true
	}
}

func applySearchOptions(optFns []SearchOption) searchOptions {
	o := searchOptions{limit: defaultLimit}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.limit < 1 {
		o.limit = defaultLimit
	}
	return o
}

// Result is one materialized search hit.
type Result struct {
	Document model.Document
	Clause   model.Clause
	Score    float32
	Match    model.MatchType
	Snippet  string
}

// SearchResult is a complete ranked answer. Version identifies the
// snapshot the search ran against; Partial reports that a time or
// traversal budget expired and the ranking may be incomplete.
type SearchResult struct {
	Version uint64
	Partial bool
	Hits    []Result
}

// Search runs a hybrid query against the serving snapshot. The
// snapshot version is pinned for the whole search, so a concurrent
// Publish never mixes versions within one result.
func (e *Engine) Search(ctx context.Context, text string, optFns ...SearchOption) (*SearchResult, error) {
	start := time.Now()
	so := applySearchOptions(optFns)

	res, terms, err := e.search(ctx, text, so)

	duration := time.Since(start)
	var version uint64
	var hits int
	var partial bool
	if res != nil {
		version, hits, partial = res.Version, len(res.Hits), res.Partial
	}
	e.opts.metricsCollector.RecordSearch(so.limit, duration, partial, err)
	e.opts.logger.LogSearch(ctx, version, terms, hits, partial, duration, err)
	return res, err
}

func (e *Engine) search(ctx context.Context, text string, so searchOptions) (*SearchResult, int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, &ErrInvalidQuery{Reason: "empty query"}
	}
	if len(text) > e.opts.maxQueryBytes {
		return nil, 0, &ErrInvalidQuery{Reason: "query too long"}
	}

	if err := e.ctrl.AcquireQuery(ctx); err != nil {
		return nil, 0, err
	}
	defer e.ctrl.ReleaseQuery()

	h, err := e.manager.AcquireRead()
	if err != nil {
		return nil, 0, err
	}
	defer h.Release()
	snap := h.Snapshot()

	terms := e.tok.Terms(text)
	if len(terms) == 0 {
		return &SearchResult{Version: snap.Version}, 0, nil
	}

	var (
		lexHits    []model.LexicalHit
		lexPartial bool
		vecHits    []model.VectorHit
		vecPartial bool
	)

	g, gctx := errgroup.WithContext(ctx)
	e.run(g, func() error {
		lexHits, lexPartial = e.lexicalSearch(gctx, snap.Lexical, terms)
		return nil
	})
	if e.opts.embedder != nil && snap.Vector != nil && !so.lexicalOnly {
		e.run(g, func() error {
			var verr error
			vecHits, vecPartial, verr = e.vectorSearch(gctx, snap, text, so.limit)
			return verr
		})
	}
	if err := g.Wait(); err != nil {
		return nil, len(terms), err
	}

	hits := merge.Merge(lexHits, vecHits, 0, e.opts.weights, snap.DocOf)
	hits = merge.ApplyFilters(hits, so.filters, snap.Docs)
	if len(hits) > so.limit {
		hits = hits[:so.limit]
	}

	res := &SearchResult{
		Version: snap.Version,
		Partial: lexPartial || vecPartial,
		Hits:    make([]Result, len(hits)),
	}
	for i, hit := range hits {
		clause := snap.Clauses[hit.Clause]
		res.Hits[i] = Result{
			Document: snap.Docs[hit.Doc],
			Clause:   clause,
			Score:    hit.Score,
			Match:    hit.Match,
			Snippet:  truncateSnippet(clause.Text, e.opts.snippetRunes),
		}
	}
	return res, len(terms), nil
}

// run schedules fn on the worker pool and joins it through g. When
// the pool cannot take the task, fn runs on the calling goroutine.
func (e *Engine) run(g *errgroup.Group, fn func() error) {
	g.Go(func() error {
		done := make(chan error, 1)
		if err := e.pool.Submit(func() { done <- fn() }); err != nil {
			return fn()
		}
		return <-done
	})
}

// lexicalSearch resolves terms against the vocabulary: an exact term
// or phrase lookup, plus prefix expansion of the trailing term.
func (e *Engine) lexicalSearch(ctx context.Context, idx *lexical.Index, terms []string) ([]model.LexicalHit, bool) {
	var hits []model.LexicalHit
	var partial bool

	if len(terms) == 1 {
		if pl, ok := idx.ExactLookup(terms[0]); ok {
			for _, p := range pl.Postings {
				hits = append(hits, model.LexicalHit{Doc: p.Doc, Clause: p.Clause, Match: model.MatchExact})
			}
		}
	} else {
		occ, part := idx.PhraseLookup(ctx, terms)
		partial = part
		for _, p := range occ {
			hits = append(hits, model.LexicalHit{Doc: p.Doc, Clause: p.Clause, Match: model.MatchExact})
		}
	}

	last := terms[len(terms)-1]
	lastRunes := utf8.RuneCountInString(last)
	it := idx.PrefixLookup(last)
	for expanded := 0; expanded < e.opts.maxPrefixExpansions; {
		term, pl, ok := it.Next()
		if !ok {
			break
		}
		if term == last {
			continue
		}
		expanded++
		deficit := utf8.RuneCountInString(term) - lastRunes

		if len(terms) == 1 {
			for _, p := range pl.Postings {
				hits = append(hits, model.LexicalHit{Doc: p.Doc, Clause: p.Clause, Match: model.MatchPrefix, Deficit: deficit})
			}
			continue
		}
		phrase := append(slices.Clone(terms[:len(terms)-1]), term)
		occ, part := idx.PhraseLookup(ctx, phrase)
		partial = partial || part
		for _, p := range occ {
			hits = append(hits, model.LexicalHit{Doc: p.Doc, Clause: p.Clause, Match: model.MatchPrefix, Deficit: deficit})
		}
	}

	return hits, partial
}

// vectorSearch embeds the query text and runs an ANN lookup. An
// embedder failure degrades the search to lexical-only; a dimension
// mismatch is a caller error and propagates.
func (e *Engine) vectorSearch(ctx context.Context, snap *snapshot.Snapshot, text string, limit int) ([]model.VectorHit, bool, error) {
	emb, err := e.opts.embedder.Embed(ctx, text)
	if err != nil {
		e.opts.logger.WarnContext(ctx, "query embedding failed, serving lexical only", "error", err)
		return nil, false, nil
	}

	q, ok := distance.NormalizeL2Copy(emb)
	if !ok {
		return nil, false, nil
	}

	return snap.Vector.Query(ctx, q, limit*vectorOverfetch, e.opts.searchBudget)
}

func truncateSnippet(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	var count int
	for i := range text {
		if count == maxRunes {
			return strings.TrimRight(text[:i], " ") + "…"
		}
		count++
	}
	return text
}
