package caselex

import (
	"errors"
	"fmt"

	"github.com/opencaselaw/caselex/snapshot"
	"github.com/opencaselaw/caselex/vector"
)

// Sentinels re-exported from the snapshot package so callers can
// match them without importing it.
var (
	// ErrIndexNotReady is returned by Search before the first publish.
	ErrIndexNotReady = snapshot.ErrIndexNotReady

	// ErrShuttingDown is returned after Close.
	ErrShuttingDown = snapshot.ErrShuttingDown
)

// ErrInvalidQuery rejects malformed query text before any index work.
type ErrInvalidQuery struct {
	Reason string
}

func (e *ErrInvalidQuery) Error() string {
	return fmt.Sprintf("caselex: invalid query: %s", e.Reason)
}

// IsInvalidQuery reports whether err is an *ErrInvalidQuery.
func IsInvalidQuery(err error) bool {
	var iq *ErrInvalidQuery
	return errors.As(err, &iq)
}

// IsDimensionMismatch reports whether err is a query/index embedding
// dimensionality mismatch.
func IsDimensionMismatch(err error) bool {
	var dm *vector.ErrDimensionMismatch
	return errors.As(err, &dm)
}

// IsInvalidSnapshot reports whether err is a rejected snapshot or
// bundle.
func IsInvalidSnapshot(err error) bool {
	var is *snapshot.InvalidSnapshotError
	return errors.As(err, &is)
}
