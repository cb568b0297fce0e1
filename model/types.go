package model

import (
	"fmt"
	"time"
)

// DocumentID is the stable identifier of one case/opinion.
type DocumentID uint32

// ClauseID is the stable identifier of a sentence/paragraph-level span
// within a document.
type ClauseID uint32

// Document is one case or opinion of the corpus.
type Document struct {
	ID           DocumentID `json:"id"`
	Citation     string     `json:"citation"`
	Court        string     `json:"court"`
	DecisionDate time.Time  `json:"decision_date"`
	Title        string     `json:"title"`
}

// Clause is a span within a document's normalized text.
// Start and End are byte offsets into that text; Text carries the
// normalized span itself so results can surface snippets without
// re-reading the corpus.
type Clause struct {
	ID    ClauseID   `json:"id"`
	Doc   DocumentID `json:"doc"`
	Start uint32     `json:"start"`
	End   uint32     `json:"end"`
	Text  string     `json:"text"`
}

// Posting is one occurrence of a term. Position is the token index
// within the document's normalized token stream, so consecutive tokens
// have consecutive positions.
type Posting struct {
	Doc      DocumentID
	Clause   ClauseID
	Position uint32
}

// String returns a compact representation, mainly for logs and tests.
func (p Posting) String() string {
	return fmt.Sprintf("(%d:%d@%d)", p.Doc, p.Clause, p.Position)
}

// MatchType labels how a merged hit was found.
type MatchType uint8

const (
	// MatchExact is a full lexical match (exact term or phrase).
	MatchExact MatchType = iota
	// MatchPrefix is a lexical match via prefix expansion.
	MatchPrefix
	// MatchVector is a semantic-only match from the vector index.
	MatchVector
	// MatchHybrid is a clause found by both the lexical and vector paths.
	MatchHybrid
)

func (m MatchType) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchPrefix:
		return "prefix"
	case MatchVector:
		return "vector"
	case MatchHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// LexicalHit is one raw hit from the lexical path.
type LexicalHit struct {
	Doc    DocumentID
	Clause ClauseID
	Match  MatchType // MatchExact or MatchPrefix
	// Deficit is the match-length deficit of a prefix hit: the number of
	// runes by which the matched vocabulary term exceeds the query prefix.
	// Zero for exact hits.
	Deficit int
}

// VectorHit is one raw hit from the vector path. Score is a similarity
// in [0,1], higher is closer.
type VectorHit struct {
	Clause ClauseID
	Score  float32
}

// Hit is one entry of the merged ranking, still id-based; the engine
// materializes it into a Result.
type Hit struct {
	Doc    DocumentID
	Clause ClauseID
	Score  float32
	Match  MatchType
}
