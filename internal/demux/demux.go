// Package demux holds the pluggable kernel-readiness back-ends used by
// the reactor (spec §4.1). A back-end only ever sees plain
// readable/writable bits on raw file descriptors; it knows nothing
// about events, priorities, or timers — that's the reactor's job.
package demux

import "time"

// Mask bits understood by every back-end. These are intentionally a
// small, kernel-shaped subset of the reactor's own event.Mask.
const (
	Readable uint32 = 1 << iota
	Writable
)

// Feature bits a back-end advertises about itself (spec §4.1).
type Feature uint32

const (
	FeatureEdgeTriggered Feature = 1 << iota
	FeatureO1
	FeatureArbitraryFD
)

func (f Feature) Has(bit Feature) bool { return f&bit != 0 }

// Backend is the demultiplexer adapter interface. Implementations must
// be safe to call Dispatch from exactly one goroutine at a time; Add
// and Del may be called concurrently with a blocked Dispatch and must
// use whatever locking the underlying syscalls require.
type Backend interface {
	// Name identifies the backend, e.g. "epoll" or "poll".
	Name() string

	// Features reports this backend's capability bitset.
	Features() Feature

	// Add registers or updates interest on fd. oldMask is the union of
	// interests before the change; newMask is the union after.
	Add(fd int, oldMask, newMask uint32) error

	// Del removes interest bits on fd. oldMask is the union before the
	// change, removedMask the bits being removed. ENOENT/EBADF/EPERM
	// are non-fatal (the fd may already be gone): the epoll backend
	// swallows them and returns nil.
	Del(fd int, oldMask, removedMask uint32) error

	// Dispatch blocks up to timeout (nil means forever, 0 means
	// non-blocking) waiting for readiness, then calls activate once
	// per (fd, mask) pair observed ready. Dispatch must return after
	// one wait cycle; it does not loop internally.
	Dispatch(timeout *time.Duration, activate func(fd int, mask uint32)) error

	// Close releases all backend resources.
	Close() error

	// NeedsReinit reports whether this backend instance must be
	// recreated after a fork (e.g. epoll fds don't survive fork+exec
	// cleanly in all kernels the way plain poll() does).
	NeedsReinit() bool
}

// Open selects the best available backend. avoid lists backend names
// (by Name()) that must not be chosen, honoring the reactor's
// avoid-method configuration and NO<NAME> environment overrides.
// require further filters by required feature bits.
func Open(avoid map[string]bool, require Feature) (Backend, error) {
	for _, ctor := range candidates {
		if avoid[ctor.name] {
			continue
		}
		b, err := ctor.open()
		if err != nil {
			continue
		}
		if b.Features()&require != require {
			b.Close()
			continue
		}
		return b, nil
	}
	return nil, errNoBackend
}

type candidate struct {
	name string
	open func() (Backend, error)
}

// candidates is populated by the platform-specific init() in this
// package (epoll on linux, poll elsewhere), in preference order —
// the first eligible candidate wins.
var candidates []candidate

func register(name string, open func() (Backend, error)) {
	candidates = append(candidates, candidate{name: name, open: open})
}

// CandidateNames returns the registered backend names in preference
// order, for building NO<NAME> environment-variable overrides.
func CandidateNames() []string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}
