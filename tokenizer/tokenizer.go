// Package tokenizer normalizes legal text into the token stream shared
// by the index builder and the query path. Both sides must run the same
// pipeline or phrase positions stop lining up.
package tokenizer

import (
	"strings"
	"unicode"
)

// Token is one normalized term together with its position in the token
// stream and its byte offsets in the source text.
type Token struct {
	Term  string
	Start int
	End   int
}

// Tokenizer splits normalized text into lowercase alphanumeric terms.
// The zero value is not usable; call New.
type Tokenizer struct {
	stopwords map[string]struct{}
	minLen    int
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithStopwords sets the stopword list. Stopwords are removed from the
// token stream; positions are assigned after removal.
func WithStopwords(words []string) Option {
	return func(t *Tokenizer) {
		t.stopwords = make(map[string]struct{}, len(words))
		for _, w := range words {
			t.stopwords[strings.ToLower(w)] = struct{}{}
		}
	}
}

// WithMinTokenLength drops tokens shorter than n runes.
func WithMinTokenLength(n int) Option {
	return func(t *Tokenizer) {
		t.minLen = n
	}
}

// New creates a Tokenizer. By default no stopwords are configured and
// single-rune tokens are kept.
func New(opts ...Option) *Tokenizer {
	t := &Tokenizer{minLen: 1}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tokenize returns the normalized tokens of text in order. Terms are
// case-folded; any run of letters or digits is one token, everything
// else is a separator. Offsets refer to bytes of the input.
func (t *Tokenizer) Tokenize(text string) []Token {
	var tokens []Token

	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = t.emit(tokens, text, start, i)
			start = -1
		}
	}
	if start >= 0 {
		tokens = t.emit(tokens, text, start, len(text))
	}

	return tokens
}

// Terms returns just the normalized term strings of text.
func (t *Tokenizer) Terms(text string) []string {
	tokens := t.Tokenize(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}

func (t *Tokenizer) emit(tokens []Token, text string, start, end int) []Token {
	term := strings.ToLower(text[start:end])
	if len([]rune(term)) < t.minLen {
		return tokens
	}
	if _, ok := t.stopwords[term]; ok {
		return tokens
	}
	return append(tokens, Token{Term: term, Start: start, End: end})
}
