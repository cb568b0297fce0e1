// Package snapshot holds the versioned, immutable aggregate the
// engine serves from: both indexes plus the document and clause
// tables, swapped atomically on publish and reference-counted so
// in-flight searches always finish against the version they started
// on.
package snapshot

import (
	"github.com/opencaselaw/caselex/lexical"
	"github.com/opencaselaw/caselex/model"
	"github.com/opencaselaw/caselex/vector"
)

// Snapshot is one immutable version of the corpus. All fields are
// read-only after Validate; sharing a Snapshot between goroutines
// needs no locking.
type Snapshot struct {
	// Version increases strictly across publishes.
	Version uint64

	Lexical *lexical.Index

	// Vector is nil for a lexical-only corpus.
	Vector *vector.Index

	Docs    map[model.DocumentID]model.Document
	Clauses map[model.ClauseID]model.Clause
}

// DocOf resolves a clause id to its owning document.
func (s *Snapshot) DocOf(id model.ClauseID) (model.DocumentID, bool) {
	c, ok := s.Clauses[id]
	if !ok {
		return 0, false
	}
	return c.Doc, true
}

// Validate checks the snapshot's internal cross-references. A failed
// validation means the snapshot must not be published.
func (s *Snapshot) Validate() error {
	if s == nil {
		return invalidf(nil, "nil snapshot")
	}
	if s.Lexical == nil {
		return invalidf(nil, "version %d: missing lexical index", s.Version)
	}

	for id, doc := range s.Docs {
		if doc.ID != id {
			return invalidf(nil, "version %d: document table key %d holds document %d", s.Version, id, doc.ID)
		}
	}

	for id, clause := range s.Clauses {
		if clause.ID != id {
			return invalidf(nil, "version %d: clause table key %d holds clause %d", s.Version, id, clause.ID)
		}
		if _, ok := s.Docs[clause.Doc]; !ok {
			return invalidf(nil, "version %d: clause %d references unknown document %d", s.Version, id, clause.Doc)
		}
		if clause.Start > clause.End {
			return invalidf(nil, "version %d: clause %d has inverted offsets [%d,%d]", s.Version, id, clause.Start, clause.End)
		}
	}

	if s.Vector != nil {
		var dangling model.ClauseID
		ok := true
		s.Vector.ForEachKey(func(id model.ClauseID) bool {
			if _, found := s.Clauses[id]; !found {
				dangling, ok = id, false
				return false
			}
			return true
		})
		if !ok {
			return invalidf(nil, "version %d: vector index references unknown clause %d", s.Version, dangling)
		}
	}

	var (
		badTerm string
		badPost model.Posting
		reason  string
	)
	s.Lexical.ForEachPosting(func(term string, p model.Posting) bool {
		if _, ok := s.Docs[p.Doc]; !ok {
			badTerm, badPost, reason = term, p, "unknown document"
			return false
		}
		clause, ok := s.Clauses[p.Clause]
		if !ok {
			badTerm, badPost, reason = term, p, "unknown clause"
			return false
		}
		if clause.Doc != p.Doc {
			badTerm, badPost, reason = term, p, "clause owned by another document"
			return false
		}
		return true
	})
	if reason != "" {
		return invalidf(nil, "version %d: term %q posting %s references %s", s.Version, badTerm, badPost, reason)
	}

	return nil
}

// Stats summarizes a snapshot for health endpoints and logs.
type Stats struct {
	Version   uint64 `json:"version"`
	Documents int    `json:"documents"`
	Clauses   int    `json:"clauses"`
	Terms     int    `json:"terms"`
	Vectors   int    `json:"vectors"`
	Dimension int    `json:"dimension"`
}

// Stats returns the snapshot's summary counters.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Version:   s.Version,
		Documents: len(s.Docs),
		Clauses:   len(s.Clauses),
		Terms:     s.Lexical.Terms(),
	}
	if s.Vector != nil {
		st.Vectors = s.Vector.Len()
		st.Dimension = s.Vector.Dimension()
	}
	return st
}
