package reactor

import "github.com/corenet-io/reactor/internal/fileio"

// Segment sizing policy constants (spec §4.4 "Segment sizing policy").
const (
	minSegmentSize     = 512
	maxChainSegment    = 1 << 30 // platform-wide MAX_CHAIN
	realignThreshold   = 2048
	autoSizeThreshold  = 4096
	maxWritevSegments  = 128 // spec §4.4 "Writing to an fd"
	maxReadvSegments   = 4   // spec §4.4 "Reading from an fd"
	defaultReadCeiling = 4096
)

// segmentFlag bits (spec §3 "Segment").
type segmentFlag uint32

const (
	segImmutable segmentFlag = 1 << iota
	segExternal              // storage not owned by the buffer; cleanup on free
	segMmapped
	segSendfile
	segReadPinned
	segWritePinned
	segDangling // freed while pinned; real deallocation deferred
)

func (f segmentFlag) has(bit segmentFlag) bool { return f&bit != 0 }

// segment is one node of the byte-buffer chain (spec §3 "Segment").
type segment struct {
	next *segment

	cap      int // storage capacity in bytes
	misalign int // bytes reserved before live data, for cheap prepend
	live     int // live byte count

	flags segmentFlag

	store []byte // nil for sendfile segments

	// external-reference trailer
	cleanup func()
	extra   any

	// mmap/sendfile trailer
	fd int

	// pin bookkeeping: a dangling segment is kept alive (not returned
	// to the storage arena) until its last pin is dropped.
	pinCount int
}

// writable reports whether more bytes can be appended into this
// segment's existing storage. Pin flags do not affect writability: a
// read/write-pinned segment still accepts bytes in its unused tail
// space, it just cannot change buffer ownership while pinned (see
// spliceMovable).
func (s *segment) writable() bool {
	const pinBits = segReadPinned | segWritePinned
	return s.flags & ^pinBits == 0 && s.store != nil
}

func (s *segment) freeSpaceAfter() int {
	return s.cap - s.misalign - s.live
}

func (s *segment) dataSlice() []byte {
	if s.store == nil {
		return nil
	}
	return s.store[s.misalign : s.misalign+s.live]
}

// nextPow2 rounds n up to the next power of two.
func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// sizeForRequest implements spec §4.4's segment sizing policy: for a
// requested content size S, round up to the next power of two (with
// a small fixed header allowance) unless that would exceed half of
// MAX_CHAIN, in which case allocate exactly S. Never below
// minSegmentSize.
func sizeForRequest(s int) int {
	const headerAllowance = 16
	if s+headerAllowance < maxChainSegment/2 {
		need := s + headerAllowance
		if need < minSegmentSize {
			need = minSegmentSize
		}
		return nextPow2(need)
	}
	if s > maxChainSegment {
		return maxChainSegment
	}
	return s
}

// newOwnedSegment allocates a segment backed by its own co-allocated
// storage of capacity cap.
func newOwnedSegment(cap int) *segment {
	return &segment{cap: cap, store: make([]byte, cap)}
}

// newExternalSegment wraps externally-owned memory; cleanup runs when
// the segment is finally released (spec §4.4 "External memory").
func newExternalSegment(data []byte, cleanup func(), extra any) *segment {
	return &segment{
		cap:     len(data),
		live:    len(data),
		store:   data,
		flags:   segImmutable | segExternal,
		cleanup: cleanup,
		extra:   extra,
	}
}

// newMmapSegment wraps a read-only mmap'd region covering [offset,
// offset+length) of fd's current backing file.
func newMmapSegment(data []byte, offset int64, length int) *segment {
	s := &segment{
		cap:      len(data),
		misalign: int(offset),
		live:     length,
		store:    data,
		flags:    segImmutable | segMmapped,
	}
	return s
}

// newSendfileSegment wraps a [offset, offset+length) span of fd that
// is transmitted with sendfile(2) and never materialized in user
// memory; store stays nil (spec §4.4 "file/mmap/sendfile segments").
func newSendfileSegment(fd int, offset int64, length int, cleanup func()) *segment {
	return &segment{
		cap:      length,
		misalign: int(offset),
		live:     length,
		flags:    segImmutable | segSendfile,
		fd:       fd,
		cleanup:  cleanup,
	}
}

func (s *segment) release() {
	if s.flags.has(segDangling) {
		return
	}
	switch {
	case s.flags.has(segMmapped):
		fileio.Munmap(s.store)
	case s.flags.has(segSendfile), s.flags.has(segExternal):
		if s.cleanup != nil {
			s.cleanup()
		}
	}
	s.store = nil
}

// free releases s unless it is pinned, in which case it
// is marked dangling and the real deallocation is deferred until the
// last pin drops (spec's invariants: "freeing a pinned segment marks
// it dangling and defers real deallocation").
func (s *segment) free() {
	if s.pinCount > 0 {
		s.flags |= segDangling
		return
	}
	s.release()
}

func (s *segment) unpin() {
	if s.pinCount > 0 {
		s.pinCount--
	}
	if s.pinCount == 0 && s.flags.has(segDangling) {
		s.flags &^= segDangling
		s.release()
	}
}
