// Package vector implements the immutable approximate-nearest-neighbor
// index of a snapshot: an HNSW graph bulk-built from (clause id,
// embedding) pairs and sealed before serving.
//
// Embeddings are expected to be L2-normalized; squared L2 distance on
// normalized vectors is monotone in cosine similarity, which is what
// query scores are reported as. There is no online insertion — updates
// arrive as a new snapshot.
package vector
