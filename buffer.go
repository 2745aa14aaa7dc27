package reactor

import (
	"reflect"
	"sync"
)

// cbFlag bits for a registered buffer callback (spec §6 "Buffer
// callback flags").
type cbFlag uint32

const (
	CBEnabled cbFlag = 1 << iota
	CBNoDefer
)

// CBInfo is passed to a byte-buffer callback describing the mutation
// batch that triggered it (spec §4.4 "Callbacks").
type CBInfo struct {
	OrigSize int
	NAdded   int
	NDeleted int
}

// BufferCallback is invoked after a byte-buffer mutation.
type BufferCallback func(b *ByteBuffer, info CBInfo, arg any)

type bufCB struct {
	fn    BufferCallback
	arg   any
	flags cbFlag
}

// ByteBuffer is a chain of variable-sized segments supporting append,
// prepend, drain, zero-copy transfer, search, line extraction, freeze
// semantics and watermark callbacks (spec §3, §4.4).
type ByteBuffer struct {
	mu       sync.Mutex
	locking  bool
	refcount int32

	head         *segment
	tail         *segment // structural last link (may trail lastWithData with empty segments)
	lastWithData *segment // last segment with live > 0, nil if buffer is empty

	totalLen int

	freezeHead bool
	freezeTail bool
	drainsToFD bool // "uses-sendfile-drain" / drains-to-fd flag

	deferredMode bool
	deferredRec  *deferredCB
	reactor      *Reactor // owner reactor for scheduling deferred callbacks

	parent *BufferedSocket // back-reference, not an ownership edge

	callbacks      []*bufCB
	nAddedSinceCB  int
	nRemovedSinceCB int
}

// NewByteBuffer creates an empty buffer with refcount 1.
func NewByteBuffer() *ByteBuffer {
	return &ByteBuffer{refcount: 1}
}

// EnableLocking turns on internal mutual exclusion for this buffer.
// Every buffer starts unlocked, including the input and output buffers
// of a BufferedSocket, which do not share the socket's mutex.
func (b *ByteBuffer) EnableLocking() { b.locking = true }

func (b *ByteBuffer) Lock() {
	if b.locking {
		b.mu.Lock()
	}
}

func (b *ByteBuffer) Unlock() {
	if b.locking {
		b.mu.Unlock()
	}
}

// GetLength returns the total live byte count.
func (b *ByteBuffer) GetLength() int {
	b.Lock()
	defer b.Unlock()
	return b.totalLen
}

// incref increments the reference count; used by BufferedSocket to
// share ownership of its input/output buffers.
func (b *ByteBuffer) incref() { b.Lock(); b.refcount++; b.Unlock() }

// Free decrements the reference count, releasing all segments and
// callbacks once it reaches zero (spec §4.4 "Reference counting").
func (b *ByteBuffer) Free() {
	b.Lock()
	b.refcount--
	if b.refcount > 0 {
		b.Unlock()
		return
	}
	s := b.head
	for s != nil {
		next := s.next
		s.free()
		s = next
	}
	b.head, b.tail, b.lastWithData = nil, nil, nil
	b.totalLen = 0
	b.callbacks = nil
	if b.deferredRec != nil {
		b.deferredRec.fn = func() {}
		b.deferredRec = nil
	}
	b.parent = nil
	b.Unlock()
}

// AddCB registers fn to run after every mutation (spec §6 "add_cb").
func (b *ByteBuffer) AddCB(fn BufferCallback, arg any) {
	b.Lock()
	defer b.Unlock()
	b.callbacks = append(b.callbacks, &bufCB{fn: fn, arg: arg, flags: CBEnabled})
}

// RemoveCB unregisters the first callback matching fn and arg.
func (b *ByteBuffer) RemoveCB(fn BufferCallback, arg any) bool {
	b.Lock()
	defer b.Unlock()
	for i, cb := range b.callbacks {
		if sameFunc(cb.fn, fn) && cb.arg == arg {
			b.callbacks = append(b.callbacks[:i], b.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

// SetCBFlags sets flags on every registered callback matching fn.
func (b *ByteBuffer) SetCBFlags(fn BufferCallback, flags cbFlag) {
	b.Lock()
	defer b.Unlock()
	for _, cb := range b.callbacks {
		if sameFunc(cb.fn, fn) {
			cb.flags = flags
		}
	}
}

// SetDeferredCallbacks toggles deferred-callback mode: when on,
// invokeCallbacks schedules one deferred record on the owning reactor
// per mutation batch instead of running inline (spec §4.4 "Callbacks").
func (b *ByteBuffer) SetDeferredCallbacks(on bool, r *Reactor) {
	b.Lock()
	defer b.Unlock()
	b.deferredMode = on
	b.reactor = r
}

// invokeCallbacks fires every enabled callback with the accumulated
// {origSize, nAdded, nDeleted} since the last dispatch, honoring
// per-callback no-defer overrides (spec §4.4). Callers invoke it with
// b's lock held and it never releases that lock: inline callbacks, and
// the QueueDeferred call for deferred ones, run with the lock held.
func (b *ByteBuffer) invokeCallbacks(origSize int) {
	if len(b.callbacks) == 0 {
		b.nAddedSinceCB, b.nRemovedSinceCB = 0, 0
		return
	}
	info := CBInfo{OrigSize: origSize, NAdded: b.nAddedSinceCB, NDeleted: b.nRemovedSinceCB}

	var inline, deferredList []*bufCB
	for _, cb := range b.callbacks {
		if cb.flags&CBEnabled == 0 {
			continue
		}
		if b.deferredMode && cb.flags&CBNoDefer == 0 {
			deferredList = append(deferredList, cb)
		} else {
			inline = append(inline, cb)
		}
	}

	for _, cb := range inline {
		cb.fn(b, info, cb.arg)
	}

	if len(deferredList) > 0 {
		r := b.reactorForDeferred()
		if r != nil {
			r.QueueDeferred(func() {
				for _, cb := range deferredList {
					cb.fn(b, info, cb.arg)
				}
			})
		} else {
			for _, cb := range deferredList {
				cb.fn(b, info, cb.arg)
			}
		}
		// accumulators only reset once the deferred batch is scheduled
		b.nAddedSinceCB, b.nRemovedSinceCB = 0, 0
		return
	}
	b.nAddedSinceCB, b.nRemovedSinceCB = 0, 0
}

func (b *ByteBuffer) reactorForDeferred() *Reactor {
	if b.reactor != nil {
		return b.reactor
	}
	if b.parent != nil {
		return b.parent.reactor
	}
	return nil
}

// sameFunc compares two BufferCallback values by the address of their
// underlying code. Closures built from the same function literal share
// that code address and so compare equal even when they capture
// different variables; the arg passed alongside is what tells such
// registrations apart in RemoveCB.
func sameFunc(a, b BufferCallback) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
