// Package merge fuses the lexical and vector candidate sets into one
// deterministic ranking. Merging is a pure function of its inputs so
// that identical queries against identical snapshots always produce
// identical rankings.
package merge

import (
	"math"
	"slices"
	"time"

	"github.com/opencaselaw/caselex/model"
)

// Weights holds the scoring constants of the hybrid ranking.
type Weights struct {
	// Exact is the score of a full lexical match.
	Exact float32

	// PrefixBase is the score of a prefix match with zero deficit;
	// PrefixStep is subtracted per rune of deficit, never below
	// PrefixFloor.
	PrefixBase  float32
	PrefixStep  float32
	PrefixFloor float32

	// VectorCeil scales vector similarities so a semantic-only hit
	// never outranks a lexical one.
	VectorCeil float32
}

// DefaultWeights returns the standard scoring constants.
func DefaultWeights() Weights {
	return Weights{
		Exact:       1.0,
		PrefixBase:  0.8,
		PrefixStep:  0.05,
		PrefixFloor: 0.5,
		VectorCeil:  0.8,
	}
}

// LexicalScore maps one lexical hit onto its merged score.
func (w Weights) LexicalScore(hit model.LexicalHit) float32 {
	if hit.Match == model.MatchExact {
		return w.Exact
	}
	s := w.PrefixBase - w.PrefixStep*float32(hit.Deficit)
	if s < w.PrefixFloor {
		return w.PrefixFloor
	}
	return s
}

// VectorScore maps a raw similarity onto its merged score. The result
// stays strictly below VectorCeil so a semantic-only hit never ties a
// zero-deficit prefix hit.
func (w Weights) VectorScore(sim float32) float32 {
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	s := sim * w.VectorCeil
	if s >= w.VectorCeil {
		s = math.Nextafter32(w.VectorCeil, 0)
	}
	return s
}

// DocResolver maps a clause id to its owning document. Vector hits
// carry only clause ids; the resolver fills in the document.
type DocResolver func(model.ClauseID) (model.DocumentID, bool)

// Merge unions the two candidate sets by clause id and returns the
// top hits. A clause found by both paths keeps its lexical score and
// is labeled MatchHybrid. Ties order by ascending document id, then
// ascending clause id. limit <= 0 means no truncation. Vector hits
// whose clause the resolver does not know are dropped.
func Merge(lex []model.LexicalHit, vec []model.VectorHit, limit int, w Weights, docOf DocResolver) []model.Hit {
	byClause := make(map[model.ClauseID]int, len(lex)+len(vec))
	hits := make([]model.Hit, 0, len(lex)+len(vec))

	for _, lh := range lex {
		score := w.LexicalScore(lh)
		if i, ok := byClause[lh.Clause]; ok {
			// The same clause can surface from several terms; keep
			// the strongest lexical evidence.
			if score > hits[i].Score {
				hits[i].Score = score
				hits[i].Match = lh.Match
			}
			continue
		}
		byClause[lh.Clause] = len(hits)
		hits = append(hits, model.Hit{
			Doc:    lh.Doc,
			Clause: lh.Clause,
			Score:  score,
			Match:  lh.Match,
		})
	}

	for _, vh := range vec {
		if i, ok := byClause[vh.Clause]; ok {
			hits[i].Match = model.MatchHybrid
			continue
		}
		doc, ok := docOf(vh.Clause)
		if !ok {
			continue
		}
		byClause[vh.Clause] = len(hits)
		hits = append(hits, model.Hit{
			Doc:    doc,
			Clause: vh.Clause,
			Score:  w.VectorScore(vh.Score),
			Match:  model.MatchVector,
		})
	}

	slices.SortFunc(hits, compareHit)

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func compareHit(a, b model.Hit) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	case a.Doc < b.Doc:
		return -1
	case a.Doc > b.Doc:
		return 1
	case a.Clause < b.Clause:
		return -1
	case a.Clause > b.Clause:
		return 1
	default:
		return 0
	}
}

// Filters restrict a merged ranking by document metadata. Zero values
// leave the corresponding dimension unbounded.
type Filters struct {
	// Courts keeps only documents from one of the named courts.
	Courts []string

	// From and To bound the decision date, inclusive on both ends.
	From time.Time
	To   time.Time
}

// Empty reports whether the filters restrict nothing.
func (f Filters) Empty() bool {
	return len(f.Courts) == 0 && f.From.IsZero() && f.To.IsZero()
}

func (f Filters) admit(doc model.Document) bool {
	if len(f.Courts) > 0 && !slices.Contains(f.Courts, doc.Court) {
		return false
	}
	if !f.From.IsZero() && doc.DecisionDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && doc.DecisionDate.After(f.To) {
		return false
	}
	return true
}

// ApplyFilters drops hits whose document fails the filters, keeping
// the relative order of the survivors. Hits referencing unknown
// documents are dropped.
func ApplyFilters(hits []model.Hit, f Filters, docs map[model.DocumentID]model.Document) []model.Hit {
	if f.Empty() {
		return hits
	}
	out := hits[:0:0]
	for _, h := range hits {
		doc, ok := docs[h.Doc]
		if ok && f.admit(doc) {
			out = append(out, h)
		}
	}
	return out
}
