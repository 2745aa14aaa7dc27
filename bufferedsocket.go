package reactor

import (
	"sync"
	"time"

	"github.com/corenet-io/reactor/internal/netfd"
	"github.com/corenet-io/reactor/internal/rlog"
)

const writeCeiling = 16384

// BufferedSocket pairs an fd with an input and output byte-buffer,
// driving reads and writes off a pair of persistent reactor events
// and delivering watermark-gated callbacks (spec §4.5).
type BufferedSocket struct {
	mu sync.Mutex // guards bs's own fields; the input and output buffers are created with locking off and do not take it

	reactor *Reactor
	fd      int
	options BevOption

	input  *ByteBuffer
	output *ByteBuffer

	readEvent  *Event
	writeEvent *Event

	readTimeout  time.Duration
	writeTimeout time.Duration

	enabledRead  bool
	enabledWrite bool
	suspendRead  SuspendReason
	suspendWrite SuspendReason

	wmReadLow, wmReadHigh   int
	wmWriteLow, wmWriteHigh int

	state       connState
	connRefused bool

	readCB  ReadCallback
	writeCB WriteCallback
	eventCB EventCallback
	cbArg   any

	deferred        bool
	deferredPending bool
	pendConnected   bool
	pendReadable    bool
	pendWritable    bool
	pendEvent       BevEvent
	pendErr         error

	refcount int
	closed   bool

	log *rlog.Logger
}

// NewBufferedSocket wraps fd (already non-blocking) in a
// BufferedSocket bound to r (spec §4.5 "Construction").
func NewBufferedSocket(r *Reactor, fd int, options BevOption) (*BufferedSocket, error) {
	bs := &BufferedSocket{
		reactor:  r,
		fd:       fd,
		options:  options,
		input:    NewByteBuffer(),
		output:   NewByteBuffer(),
		refcount: 1,
		log:      rlog.Default(),
		deferred: options&BevOptDeferCallbacks != 0,
	}
	// Writing starts enabled, so appending to the output arms the
	// writable event without a separate Enable(EvWrite).
	bs.enabledWrite = true
	bs.input.parent = bs
	bs.output.parent = bs
	bs.output.SetDrainsToFD(true)
	bs.output.SetDeferredCallbacks(bs.deferred, r)

	// Input tail and output head are frozen so user code touching the
	// buffers from a callback cannot race the read/write syscalls; the
	// read/write paths unfreeze narrowly around their own I/O call.
	bs.input.Freeze(false)
	bs.output.Freeze(true)

	bs.output.AddCB(func(_ *ByteBuffer, info CBInfo, _ any) {
		bs.onOutputAppended(info)
	}, nil)

	bs.readEvent = NewEvent(r, fd, EvRead|EvPersist, bs.onReadable, bs)
	bs.writeEvent = NewEvent(r, fd, EvWrite|EvPersist, bs.onWritable, bs)
	return bs, nil
}

// incref/decref implement the refcounting described in spec §4.5
// ("each pending deferred-callback schedule holds a reference").
// Caller must hold bs.mu.
func (bs *BufferedSocket) increfLocked() { bs.refcount++ }

func (bs *BufferedSocket) decrefLocked() {
	bs.refcount--
	if bs.refcount > 0 || bs.closed {
		return
	}
	bs.closed = true
	bs.readEvent.Del()
	bs.writeEvent.Del()
	bs.readEvent.Free()
	bs.writeEvent.Free()
	if bs.options&BevOptCloseOnFree != 0 {
		netfd.Close(bs.fd)
	}
	bs.input.Free()
	bs.output.Free()
}

// Free releases the caller's reference to bs.
func (bs *BufferedSocket) Free() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.decrefLocked()
}

func (bs *BufferedSocket) GetInput() *ByteBuffer  { return bs.input }
func (bs *BufferedSocket) GetOutput() *ByteBuffer { return bs.output }
func (bs *BufferedSocket) GetFD() int             { return bs.fd }

func (bs *BufferedSocket) SetFD(fd int) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.fd = fd
	bs.readEvent.Assign(fd, EvRead|EvPersist, bs.onReadable, bs)
	bs.writeEvent.Assign(fd, EvWrite|EvPersist, bs.onWritable, bs)
}

// SetCB installs the three user callbacks (spec §6 "setcb").
func (bs *BufferedSocket) SetCB(r ReadCallback, w WriteCallback, ev EventCallback, arg any) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.readCB, bs.writeCB, bs.eventCB, bs.cbArg = r, w, ev, arg
}

// SetTimeouts arms or disarms per-direction idle timeouts. A zero
// duration disables that direction's timeout.
func (bs *BufferedSocket) SetTimeouts(read, write time.Duration) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.readTimeout, bs.writeTimeout = read, write
	bs.applyReadRegistrationLocked()
	bs.applyWriteRegistrationLocked()
}

// Enable turns on reading and/or writing (spec §6 "enable").
func (bs *BufferedSocket) Enable(mask Mask) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if mask&EvRead != 0 {
		bs.enabledRead = true
		bs.applyReadRegistrationLocked()
	}
	if mask&EvWrite != 0 {
		bs.enabledWrite = true
		bs.applyWriteRegistrationLocked()
	}
}

// Disable turns off reading and/or writing.
func (bs *BufferedSocket) Disable(mask Mask) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if mask&EvRead != 0 {
		bs.enabledRead = false
		bs.applyReadRegistrationLocked()
	}
	if mask&EvWrite != 0 {
		bs.enabledWrite = false
		bs.applyWriteRegistrationLocked()
	}
}

func (bs *BufferedSocket) applyReadRegistrationLocked() {
	want := bs.enabledRead && bs.suspendRead == 0 && !bs.closed
	pending, _, _ := bs.readEvent.Pending(EvRead)
	if want && !pending {
		var to *time.Duration
		if bs.readTimeout > 0 {
			to = &bs.readTimeout
		}
		bs.readEvent.Add(to)
	} else if !want && pending {
		bs.readEvent.Del()
	}
}

func (bs *BufferedSocket) applyWriteRegistrationLocked() {
	want := bs.enabledWrite && bs.suspendWrite == 0 && !bs.closed
	pending, _, _ := bs.writeEvent.Pending(EvWrite)
	if want && !pending {
		var to *time.Duration
		if bs.writeTimeout > 0 {
			to = &bs.writeTimeout
		}
		bs.writeEvent.Add(to)
	} else if !want && pending {
		bs.writeEvent.Del()
	}
}

// SetWatermark configures low/high marks for one or both directions
// (spec §4.5 "Watermarks").
func (bs *BufferedSocket) SetWatermark(mask Mask, low, high int) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if mask&EvRead != 0 {
		bs.wmReadLow, bs.wmReadHigh = low, high
		if high == 0 {
			bs.suspendRead &^= SuspendWatermark
		} else if bs.input.GetLength() >= high {
			bs.suspendRead |= SuspendWatermark
		}
		bs.applyReadRegistrationLocked()
	}
	if mask&EvWrite != 0 {
		bs.wmWriteLow, bs.wmWriteHigh = low, high
		if high == 0 {
			bs.suspendWrite &^= SuspendWatermark
		} else if bs.output.GetLength() >= high {
			bs.suspendWrite |= SuspendWatermark
		}
		bs.applyWriteRegistrationLocked()
	}
}

// SuspendRead/UnsuspendRead toggle a user-controlled suspend reason on
// top of whatever the watermark logic is independently maintaining
// (spec §4.5 "Suspension").
func (bs *BufferedSocket) SuspendRead(reason SuspendReason) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.suspendRead |= reason
	bs.applyReadRegistrationLocked()
}

func (bs *BufferedSocket) UnsuspendRead(reason SuspendReason) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.suspendRead &^= reason
	bs.applyReadRegistrationLocked()
}

func (bs *BufferedSocket) SuspendWrite(reason SuspendReason) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.suspendWrite |= reason
	bs.applyWriteRegistrationLocked()
}

func (bs *BufferedSocket) UnsuspendWrite(reason SuspendReason) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.suspendWrite &^= reason
	bs.applyWriteRegistrationLocked()
}

// Write appends data to the output buffer and arms the writable event
// (spec §6 "write").
func (bs *BufferedSocket) Write(data []byte) error {
	if err := bs.output.Add(data); err != nil {
		return err
	}
	return nil
}

// WriteBuffer moves src's contents onto the output buffer.
func (bs *BufferedSocket) WriteBuffer(src *ByteBuffer) error {
	return bs.output.AddBuffer(src)
}

// Read copies up to len(dst) bytes out of the input buffer.
func (bs *BufferedSocket) Read(dst []byte) (int, error) {
	return bs.input.Remove(dst)
}

// ReadBuffer moves the entire input buffer onto dst.
func (bs *BufferedSocket) ReadBuffer(dst *ByteBuffer) error {
	return dst.AddBuffer(bs.input)
}

// PrioritySet assigns both internal events' activation priority.
func (bs *BufferedSocket) PrioritySet(p int) error {
	if err := bs.readEvent.PrioritySet(p); err != nil {
		return err
	}
	return bs.writeEvent.PrioritySet(p)
}

// Flush forces a synchronous attempt to drain the output buffer.
func (bs *BufferedSocket) Flush() error {
	bs.mu.Lock()
	fd := bs.fd
	bs.mu.Unlock()
	bs.output.Unfreeze(true)
	_, err := bs.output.WriteAtmost(fd, bs.output.GetLength())
	bs.output.Freeze(true)
	return err
}

// onOutputAppended is the output buffer's own callback: any append
// arms the writable event unless writing is disabled or suspended
// (spec §4.5 "attach an output-buffer callback that arms the writable
// event").
func (bs *BufferedSocket) onOutputAppended(info CBInfo) {
	if info.NAdded == 0 {
		return
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.wmWriteHigh > 0 && bs.output.GetLength() >= bs.wmWriteHigh {
		bs.suspendWrite |= SuspendWatermark
	}
	bs.applyWriteRegistrationLocked()
}
