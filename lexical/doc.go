// Package lexical implements the immutable lexical index of a snapshot:
// a sorted term dictionary with positional posting lists, supporting
// exact lookup, lazy lexicographic prefix enumeration, and phrase
// resolution.
//
// The index is built once from a sorted, deduplicated vocabulary and is
// read-only afterwards; unlimited concurrent readers need no locking.
// The serialized form front-codes the term dictionary (shared prefixes
// are stored once), which is what makes large legal vocabularies cheap
// to persist.
package lexical
