// Package model defines the shared data model for the caselex engine:
// document and clause identities, posting locations, and the hit/result
// types exchanged between the lexical path, the vector path, and the
// hybrid merger.
//
// Identifiers are stable and caller-assigned. Within one snapshot the
// document and clause id spaces are shared identically by the lexical
// and vector indexes.
package model
