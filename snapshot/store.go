package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/opencaselaw/caselex/blobstore"
	"github.com/opencaselaw/caselex/codec"
)

// SaveToStore serializes the snapshot and writes it to the store
// under its canonical bundle name, returning that name.
func SaveToStore(ctx context.Context, store blobstore.Store, snap *Snapshot, c codec.Codec) (string, error) {
	var buf bytes.Buffer
	if err := WriteBundle(&buf, snap, c); err != nil {
		return "", err
	}
	name := BundleName(snap.Version)
	if err := store.Put(ctx, name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("snapshot: store bundle %s: %w", name, err)
	}
	return name, nil
}

// LoadFromStore reads and parses one named bundle.
func LoadFromStore(ctx context.Context, store blobstore.Store, name string, c codec.Codec) (*Snapshot, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("snapshot: fetch bundle %s: %w", name, err)
	}
	return ReadBundle(data, c)
}

// LoadLatest finds the newest loadable bundle in the store. Corrupt
// newer bundles are skipped in favor of older intact ones; the walk
// fails only when no bundle loads.
func LoadLatest(ctx context.Context, store blobstore.Store, c codec.Codec) (*Snapshot, error) {
	names, err := store.List(ctx, "snapshot-")
	if err != nil {
		return nil, fmt.Errorf("snapshot: list bundles: %w", err)
	}

	var candidates []string
	for _, name := range names {
		if _, ok := ParseBundleName(name); ok {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return nil, blobstore.ErrNotFound
	}
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))

	var lastErr error
	for _, name := range candidates {
		snap, err := LoadFromStore(ctx, store, name, c)
		if err == nil {
			return snap, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
