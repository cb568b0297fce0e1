package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexNotReady is returned when no snapshot has been published.
	ErrIndexNotReady = errors.New("snapshot: index not ready")

	// ErrShuttingDown is returned for operations after Close.
	ErrShuttingDown = errors.New("snapshot: shutting down")
)

// InvalidSnapshotError rejects a snapshot that fails validation or a
// bundle that fails to load. The serving snapshot is never affected.
type InvalidSnapshotError struct {
	Reason string
	Err    error
}

func (e *InvalidSnapshotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snapshot: invalid snapshot: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("snapshot: invalid snapshot: %s", e.Reason)
}

func (e *InvalidSnapshotError) Unwrap() error { return e.Err }

func invalidf(err error, format string, args ...any) *InvalidSnapshotError {
	return &InvalidSnapshotError{Reason: fmt.Sprintf(format, args...), Err: err}
}
