// Package builder assembles snapshots offline: it tokenizes the
// corpus, embeds clauses, and bulk-builds both indexes. Building
// never touches a serving snapshot; the result is handed to
// snapshot.Manager.Publish.
package builder

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/opencaselaw/caselex/distance"
	"github.com/opencaselaw/caselex/lexical"
	"github.com/opencaselaw/caselex/model"
	"github.com/opencaselaw/caselex/resource"
	"github.com/opencaselaw/caselex/snapshot"
	"github.com/opencaselaw/caselex/tokenizer"
	"github.com/opencaselaw/caselex/vector"
)

// Embedder turns clause text into a fixed-dimension vector. The
// builder treats it as an external capability: it may fail per call,
// and a failed clause is skipped rather than aborting the build.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures a Builder.
type Options struct {
	// Version is the version of the produced snapshot.
	Version uint64

	// Embedder provides clause embeddings. Nil builds a lexical-only
	// snapshot.
	Embedder Embedder

	// PoolSize caps concurrent embedder calls. Defaults to NumCPU.
	PoolSize int

	// EmbedRatePerSec throttles embedder calls. 0 means unlimited.
	EmbedRatePerSec float64

	// TokenizerOptions are passed through to the tokenizer.
	TokenizerOptions []tokenizer.Option
}

// Builder accumulates documents and produces one immutable snapshot.
// Not safe for concurrent use.
type Builder struct {
	opts Options
	tok  *tokenizer.Tokenizer

	docs     map[model.DocumentID]model.Document
	clauses  map[model.ClauseID]model.Clause
	docOrder []model.DocumentID
	// clauseOrder groups clause ids per document in offset order.
	clauseOrder map[model.DocumentID][]model.ClauseID

	// Skipped counts clauses dropped because their embedding failed.
	Skipped int
}

// New creates a Builder for embeddings of the given dimension.
func New(optFns ...func(*Options)) *Builder {
	opts := Options{
		Version:  1,
		PoolSize: runtime.NumCPU(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}

	return &Builder{
		opts:        opts,
		tok:         tokenizer.New(opts.TokenizerOptions...),
		docs:        make(map[model.DocumentID]model.Document),
		clauses:     make(map[model.ClauseID]model.Clause),
		clauseOrder: make(map[model.DocumentID][]model.ClauseID),
	}
}

// AddDocument registers one document and its clauses. Ids are stable
// across rebuilds, so duplicates are rejected rather than replaced.
func (b *Builder) AddDocument(doc model.Document, clauses []model.Clause) error {
	if _, ok := b.docs[doc.ID]; ok {
		return fmt.Errorf("builder: duplicate document id %d", doc.ID)
	}
	for _, c := range clauses {
		if c.Doc != doc.ID {
			return fmt.Errorf("builder: clause %d belongs to document %d, not %d", c.ID, c.Doc, doc.ID)
		}
		if _, ok := b.clauses[c.ID]; ok {
			return fmt.Errorf("builder: duplicate clause id %d", c.ID)
		}
		if c.Start > c.End {
			return fmt.Errorf("builder: clause %d has inverted offsets [%d,%d]", c.ID, c.Start, c.End)
		}
	}

	b.docs[doc.ID] = doc
	b.docOrder = append(b.docOrder, doc.ID)

	ordered := make([]model.ClauseID, 0, len(clauses))
	for _, c := range clauses {
		b.clauses[c.ID] = c
		ordered = append(ordered, c.ID)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return b.clauses[ordered[i]].Start < b.clauses[ordered[j]].Start
	})
	b.clauseOrder[doc.ID] = ordered
	return nil
}

// Build produces the snapshot. Embedding failures skip the affected
// clause's vector; only context cancellation aborts the build.
func (b *Builder) Build(ctx context.Context) (*snapshot.Snapshot, error) {
	lex, err := b.buildLexical()
	if err != nil {
		return nil, err
	}

	var vec *vector.Index
	if b.opts.Embedder != nil {
		vec, err = b.buildVector(ctx)
		if err != nil {
			return nil, err
		}
	}

	snap := &snapshot.Snapshot{
		Version: b.opts.Version,
		Lexical: lex,
		Vector:  vec,
		Docs:    b.docs,
		Clauses: b.clauses,
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// buildLexical tokenizes every clause and assembles the sorted
// vocabulary. Positions index the document's token stream, so tokens
// of consecutive clauses have consecutive positions.
func (b *Builder) buildLexical() (*lexical.Index, error) {
	postings := make(map[string][]model.Posting)
	validDocs := roaring.New()
	validClauses := roaring.New()

	for _, docID := range b.docOrder {
		validDocs.Add(uint32(docID))
		pos := uint32(0)
		for _, clauseID := range b.clauseOrder[docID] {
			validClauses.Add(uint32(clauseID))
			clause := b.clauses[clauseID]
			for _, tok := range b.tok.Tokenize(clause.Text) {
				postings[tok.Term] = append(postings[tok.Term], model.Posting{
					Doc:      docID,
					Clause:   clauseID,
					Position: pos,
				})
				pos++
			}
		}
	}

	terms := make([]string, 0, len(postings))
	for term := range postings {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	entries := make([]lexical.Entry, 0, len(terms))
	for _, term := range terms {
		list := postings[term]
		sort.Slice(list, func(i, j int) bool {
			if list[i].Doc != list[j].Doc {
				return list[i].Doc < list[j].Doc
			}
			return list[i].Position < list[j].Position
		})
		entries = append(entries, lexical.Entry{Term: term, Postings: list})
	}

	return lexical.Build(entries, validDocs, validClauses)
}

// buildVector embeds every clause through the pool and bulk-builds
// the graph. Insertion order is ascending clause id, which together
// with the keyed level assignment makes rebuilds reproducible.
func (b *Builder) buildVector(ctx context.Context) (*vector.Index, error) {
	ids := make([]model.ClauseID, 0, len(b.clauses))
	for id := range b.clauses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ctrl := resource.NewController(resource.Config{
		EmbedRatePerSec: b.opts.EmbedRatePerSec,
	})

	pool, err := ants.NewPool(b.opts.PoolSize)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	embeddings := make([][]float32, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		i, id := i, id
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := ctrl.AcquireEmbed(ctx); err != nil {
				return
			}
			vec, err := b.opts.Embedder.Embed(ctx, b.clauses[id].Text)
			if err != nil {
				return
			}
			embeddings[i] = vec
		}
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dim int
	for _, e := range embeddings {
		if e != nil {
			dim = len(e)
			break
		}
	}
	if dim == 0 {
		// Every clause failed to embed; serve lexical-only.
		b.Skipped = len(ids)
		return nil, nil
	}

	vb := vector.NewBuilder(dim)
	for i, id := range ids {
		e := embeddings[i]
		if e == nil || len(e) != dim {
			b.Skipped++
			continue
		}
		normalized, ok := distance.NormalizeL2Copy(e)
		if !ok {
			b.Skipped++
			continue
		}
		if err := vb.Add(id, normalized); err != nil {
			b.Skipped++
			continue
		}
	}
	return vb.Build(), nil
}
