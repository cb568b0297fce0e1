package snapshot

import (
	"sync"
	"sync/atomic"
)

// State is the lifecycle phase of a Manager.
type State int32

const (
	// StateEmpty means no snapshot has been published yet.
	StateEmpty State = iota
	// StateServing means a snapshot is live and reads are admitted.
	StateServing
	// StateShuttingDown means Close was called; reads are rejected.
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateServing:
		return "serving"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// refSnapshot pairs a Snapshot with a reference count. The count
// starts at 1 for the manager's own reference; each read handle adds
// one. When it reaches zero the drain callback fires.
type refSnapshot struct {
	snap    *Snapshot
	refs    atomic.Int64
	onDrain atomic.Value // stores func()
}

func newRefSnapshot(snap *Snapshot) *refSnapshot {
	r := &refSnapshot{snap: snap}
	r.refs.Store(1)
	var f func()
	r.onDrain.Store(f)
	return r
}

// tryIncRef increments the count unless the snapshot already drained.
func (r *refSnapshot) tryIncRef() bool {
	for {
		refs := r.refs.Load()
		if refs <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

func (r *refSnapshot) decRef() {
	if r.refs.Add(-1) == 0 {
		if f := r.onDrain.Load().(func()); f != nil {
			f()
		}
	}
}

// setOnDrain installs a callback fired when the last reference drops.
func (r *refSnapshot) setOnDrain(f func()) {
	r.onDrain.Store(f)
}

// Handle pins one snapshot version for the duration of a read.
type Handle struct {
	ref      *refSnapshot
	released atomic.Bool
}

// Snapshot returns the pinned snapshot.
func (h *Handle) Snapshot() *Snapshot { return h.ref.snap }

// Release drops the pin. Safe to call more than once.
func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.ref.decRef()
	}
}

// Manager owns the current snapshot and swaps it atomically on
// publish. Reads never block publishes and publishes never block
// reads; a superseded snapshot stays alive until its last read handle
// is released.
type Manager struct {
	current atomic.Pointer[refSnapshot]
	state   atomic.Int32

	// mu serializes Publish and Close against each other only.
	mu sync.Mutex
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	m := &Manager{}
	m.state.Store(int32(StateEmpty))
	return m
}

// Publish validates snap and makes it the serving snapshot. On
// validation failure the current snapshot is untouched. Versions must
// increase strictly.
func (m *Manager) Publish(snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if State(m.state.Load()) == StateShuttingDown {
		return ErrShuttingDown
	}

	if prev := m.current.Load(); prev != nil && snap.Version <= prev.snap.Version {
		return invalidf(nil, "version %d does not advance current version %d", snap.Version, prev.snap.Version)
	}

	prev := m.current.Swap(newRefSnapshot(snap))
	m.state.Store(int32(StateServing))

	if prev != nil {
		prev.decRef()
	}
	return nil
}

// AcquireRead pins the current snapshot. The caller must Release the
// handle when done.
func (m *Manager) AcquireRead() (*Handle, error) {
	for {
		if State(m.state.Load()) == StateShuttingDown {
			return nil, ErrShuttingDown
		}
		cur := m.current.Load()
		if cur == nil {
			return nil, ErrIndexNotReady
		}
		if cur.tryIncRef() {
			return &Handle{ref: cur}, nil
		}
		// Lost a race with a publish; the pointer has moved on.
	}
}

// State returns the manager's lifecycle phase.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Healthy reports whether reads are being admitted.
func (m *Manager) Healthy() bool {
	return m.State() == StateServing && m.current.Load() != nil
}

// CurrentVersion returns the serving snapshot's version, or 0 when
// empty.
func (m *Manager) CurrentVersion() uint64 {
	cur := m.current.Load()
	if cur == nil {
		return 0
	}
	return cur.snap.Version
}

// Close rejects new reads and blocks until in-flight reads release
// their handles. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if State(m.state.Load()) == StateShuttingDown {
		return nil
	}
	m.state.Store(int32(StateShuttingDown))

	cur := m.current.Swap(nil)
	if cur == nil {
		return nil
	}

	drained := make(chan struct{})
	cur.setOnDrain(func() { close(drained) })
	cur.decRef()
	<-drained
	return nil
}
