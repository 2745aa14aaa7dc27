package reactor

import "github.com/corenet-io/reactor/internal/netfd"

// scheduleDeferredLocked arranges for runDeferred to execute once on
// the owning reactor, coalescing any pending flags already set this
// iteration into a single record (spec §4.5 "Callbacks").
func (bs *BufferedSocket) scheduleDeferredLocked() {
	if bs.deferredPending {
		return
	}
	bs.deferredPending = true
	bs.increfLocked()
	bs.reactor.QueueDeferred(bs.runDeferred)
}

// runDeferred fires CONNECTED, then readable, then writable, then
// event, in that fixed order (spec §5 "Ordering guarantees").
func (bs *BufferedSocket) runDeferred() {
	bs.mu.Lock()
	connected := bs.pendConnected
	readable := bs.pendReadable
	writable := bs.pendWritable
	what := bs.pendEvent
	err := bs.pendErr
	bs.pendConnected, bs.pendReadable, bs.pendWritable, bs.pendEvent, bs.pendErr = false, false, false, 0, nil
	bs.deferredPending = false
	readCB, writeCB, eventCB, arg := bs.readCB, bs.writeCB, bs.eventCB, bs.cbArg
	bs.mu.Unlock()

	if connected && eventCB != nil {
		eventCB(bs, BevEventConnected, nil, arg)
	}
	if readable && readCB != nil {
		readCB(bs, arg)
	}
	if writable && writeCB != nil {
		writeCB(bs, arg)
	}
	if what != 0 && eventCB != nil {
		eventCB(bs, what, err, arg)
	}

	bs.mu.Lock()
	bs.decrefLocked()
	bs.mu.Unlock()
}

func (bs *BufferedSocket) signalConnectedLocked() {
	if bs.deferred {
		bs.pendConnected = true
		bs.scheduleDeferredLocked()
		return
	}
	cb, arg := bs.eventCB, bs.cbArg
	bs.mu.Unlock()
	if cb != nil {
		cb(bs, BevEventConnected, nil, arg)
	}
	bs.mu.Lock()
}

func (bs *BufferedSocket) signalReadableLocked() {
	if bs.deferred {
		bs.pendReadable = true
		bs.scheduleDeferredLocked()
		return
	}
	cb, arg := bs.readCB, bs.cbArg
	bs.mu.Unlock()
	if cb != nil {
		cb(bs, arg)
	}
	bs.mu.Lock()
}

func (bs *BufferedSocket) signalWritableLocked() {
	if bs.deferred {
		bs.pendWritable = true
		bs.scheduleDeferredLocked()
		return
	}
	cb, arg := bs.writeCB, bs.cbArg
	bs.mu.Unlock()
	if cb != nil {
		cb(bs, arg)
	}
	bs.mu.Lock()
}

func (bs *BufferedSocket) signalEventLocked(what BevEvent, err error) {
	if bs.deferred {
		bs.pendEvent |= what
		if err != nil {
			bs.pendErr = err
		}
		bs.scheduleDeferredLocked()
		return
	}
	cb, arg := bs.eventCB, bs.cbArg
	bs.mu.Unlock()
	if cb != nil {
		cb(bs, what, err, arg)
	}
	bs.mu.Lock()
}

// onReadable implements spec §4.5 "Read path".
func (bs *BufferedSocket) onReadable(fd int, res Mask, _ any) {
	bs.mu.Lock()
	bs.increfLocked()
	defer func() {
		bs.decrefLocked()
		bs.mu.Unlock()
	}()

	if res&EvTimeout != 0 && res&EvRead == 0 {
		bs.signalEventLocked(BevEventTimeout|BevEventReading, nil)
		return
	}

	howmuch := defaultReadCeiling
	if bs.wmReadHigh > 0 {
		remaining := bs.wmReadHigh - bs.input.GetLength()
		if remaining <= 0 {
			bs.suspendRead |= SuspendWatermark
			bs.applyReadRegistrationLocked()
			return
		}
		if remaining < howmuch {
			howmuch = remaining
		}
	}

	bs.input.Unfreeze(false)
	n, err := bs.input.Read(fd, howmuch)
	bs.input.Freeze(false)

	switch {
	case n == 0 && err == nil:
		bs.signalEventLocked(BevEventEOF|BevEventReading, nil)
		return
	case err != nil:
		if netfd.IsRetriable(err) {
			return
		}
		bs.signalEventLocked(BevEventError|BevEventReading, err)
		return
	}

	if bs.input.GetLength() >= bs.wmReadLow {
		bs.signalReadableLocked()
	}
}

// onWritable implements spec §4.5 "Write path", including the
// in-progress connect completion check.
func (bs *BufferedSocket) onWritable(fd int, res Mask, _ any) {
	bs.mu.Lock()
	bs.increfLocked()
	defer func() {
		bs.decrefLocked()
		bs.mu.Unlock()
	}()

	if res&EvTimeout != 0 && res&EvWrite == 0 {
		bs.signalEventLocked(BevEventTimeout|BevEventWriting, nil)
		return
	}

	justConnected := false
	if bs.state == connConnecting {
		if bs.connRefused {
			bs.readEvent.Del()
			bs.writeEvent.Del()
			bs.signalEventLocked(BevEventError|BevEventWriting,
				newErr("bufferedsocket.write", fd, ErrCodeConnRefused, "connection refused", nil))
			return
		}
		outcome, err := netfd.CheckConnect(fd)
		switch outcome {
		case netfd.ConnectInProgress:
			return
		case netfd.ConnectDone:
			bs.state = connConnected
			justConnected = true
			bs.signalConnectedLocked()
			if !bs.enabledWrite || bs.suspendWrite != 0 {
				bs.writeEvent.Del()
			}
		default:
			bs.readEvent.Del()
			bs.writeEvent.Del()
			bs.signalEventLocked(BevEventError|BevEventWriting, err)
			return
		}
	}

	wrote := 0
	if bs.output.GetLength() > 0 {
		bs.output.Unfreeze(true)
		n, err := bs.output.WriteAtmost(fd, writeCeiling)
		bs.output.Freeze(true)
		wrote = n
		if err != nil && !netfd.IsRetriable(err) {
			bs.signalEventLocked(BevEventError|BevEventWriting, err)
			return
		}
	}

	if bs.output.GetLength() == 0 {
		bs.writeEvent.Del()
	}

	if bs.output.GetLength() <= bs.wmWriteLow && (wrote > 0 || justConnected) {
		if bs.wmWriteHigh == 0 || bs.output.GetLength() < bs.wmWriteHigh {
			bs.suspendWrite &^= SuspendWatermark
		}
		bs.signalWritableLocked()
	}
}

// Connect attaches (creating if necessary) a non-blocking socket and
// issues a non-blocking connect to addr (spec §4.5 "Connect").
func (bs *BufferedSocket) Connect(addr string) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	family, sa, err := netfd.ResolveTCP(addr)
	if err != nil {
		return newErr("bufferedsocket.connect", -1, ErrCodeUsage, "resolve failed", err)
	}
	if bs.fd < 0 {
		fd, serr := netfd.NewStreamSocket(family)
		if serr != nil {
			return newErr("bufferedsocket.connect", -1, ErrCodeFatalFD, "socket failed", serr)
		}
		bs.fd = fd
		bs.readEvent.Assign(fd, EvRead|EvPersist, bs.onReadable, bs)
		bs.writeEvent.Assign(fd, EvWrite|EvPersist, bs.onWritable, bs)
	}

	outcome, cerr := netfd.Connect(bs.fd, sa)
	switch outcome {
	case netfd.ConnectDone, netfd.ConnectInProgress:
		bs.state = connConnecting
		bs.enabledWrite = true
		bs.applyWriteRegistrationLocked()
		return nil
	case netfd.ConnectRefused:
		bs.state = connConnecting
		bs.connRefused = true
		bs.enabledWrite = true
		bs.applyWriteRegistrationLocked()
		return nil
	default:
		netfd.Close(bs.fd)
		wrapped := newErr("bufferedsocket.connect", bs.fd, ErrCodeFatalFD, "connect failed", cerr)
		bs.signalEventLocked(BevEventError, wrapped)
		return wrapped
	}
}
