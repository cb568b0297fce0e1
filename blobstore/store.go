// Package blobstore abstracts where snapshot bundles live. Bundles
// are immutable whole-file blobs, so the contract is deliberately
// coarse: put, get, list, delete.
//
// Implementations in this package cover the local filesystem and an
// in-memory store for tests; the s3 and minio subpackages cover
// object storage.
package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error satisfying
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is a named collection of immutable bundle blobs.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes a blob under name, replacing any existing blob
	// atomically (readers see either the old or the new content).
	Put(ctx context.Context, name string, data []byte) error

	// Get reads the blob named name; ErrNotFound if absent.
	Get(ctx context.Context, name string) ([]byte, error)

	// List returns the names of all blobs with the given prefix,
	// sorted lexicographically.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, name string) error
}
