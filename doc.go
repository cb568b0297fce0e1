// Package caselex is a read-optimized hybrid retrieval engine for a
// static legal-text corpus. It serves exact, prefix, phrase, and
// semantic queries against an immutable snapshot of two indexes: a
// sorted-dictionary lexical index and an HNSW vector index. Snapshots
// are versioned, validated before publish, and swapped atomically, so
// a search always runs against exactly one corpus version.
//
// Typical serving flow:
//
//	snap, err := builder.Build(ctx)        // offline
//	engine, err := caselex.New(caselex.WithEmbedder(embedder))
//	err = engine.Publish(snap)
//	res, err := engine.Search(ctx, "free speech", caselex.WithLimit(10))
//
// Snapshots persist as single-file bundles on any blobstore.Store;
// Open loads the newest valid bundle and starts serving it.
package caselex
