package reactor

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/corenet-io/reactor/internal/selfpipe"
)

// signalBridge is process-wide state: only one Reactor may own signal
// dispatch at a time (spec §4.2, §9 "Global signal state must be
// expressed as a process-wide registry"). Go's os/signal.Notify
// already serializes delivery through a channel, so the bridge here
// reuses that instead of installing raw sigaction handlers: the
// async-signal-safety constraint in spec §4.2 is Go's os/signal
// runtime hook's problem, not this package's.
type signalBridge struct {
	mu      sync.Mutex
	owner   *Reactor
	pipe    selfpipe.Pair
	sigCh   chan os.Signal
	stop    chan struct{}
	counts  [64]int32 // per-signal pending counts, indices are syscall.Signal values
	events  map[syscall.Signal]*Event
}

var globalSignalBridge = &signalBridge{}

// initSignalBridge wires r up as the process's signal owner. Safe to
// call at most once per reactor; a second reactor attempting to own
// signals concurrently is rejected.
func (r *Reactor) initSignalBridge() error {
	b := globalSignalBridge
	b.mu.Lock()
	defer b.mu.Unlock()
	return r.initSignalBridgeLocked()
}

// initSignalBridgeLocked is initSignalBridge's body, assuming the
// caller already holds globalSignalBridge.mu (AddSignal calls this
// directly to avoid re-locking its own mutex).
func (r *Reactor) initSignalBridgeLocked() error {
	b := globalSignalBridge
	if b.owner != nil {
		return newErr("reactor.signal", -1, ErrCodeUsage, "another reactor already owns signal dispatch", nil)
	}
	p, err := selfpipe.New()
	if err != nil {
		return newErr("reactor.signal", -1, ErrCodeFatalFD, "create signal pipe", err)
	}
	b.pipe = p
	b.owner = r
	b.sigCh = make(chan os.Signal, 16)
	b.stop = make(chan struct{})
	b.events = make(map[syscall.Signal]*Event)

	go func() {
		for {
			select {
			case sig := <-b.sigCh:
				if s, ok := sig.(syscall.Signal); ok {
					atomic.AddInt32(&b.counts[s&63], 1)
					selfpipe.WriteByte(b.pipe.Write, byte(s))
				}
			case <-b.stop:
				return
			}
		}
	}()

	r.signalReadEvent = &Event{
		reactor:   r,
		fd:        p.Read,
		mask:      EvRead | EvPersist,
		priority:  0,
		commonIdx: -1,
		heapIndex: -1,
		st:        stateInternal | stateInitialized,
	}
	r.signalReadEvent.cb = r.onSignalReadable
	return r.addEvent(r.signalReadEvent, nil)
}

// onSignalReadable drains the signal pipe, tallies counts per signal
// number, then activates every registered signal Event with its count
// (spec §4.2).
func (r *Reactor) onSignalReadable(fd int, res Mask, arg any) {
	b := globalSignalBridge
	var scratch [256]byte
	_, bytes, _ := selfpipe.DrainAll(fd, scratch[:])

	tally := make(map[syscall.Signal]int)
	for _, by := range bytes {
		tally[syscall.Signal(by)]++
	}

	b.mu.Lock()
	for sig, n := range tally {
		atomic.AddInt32(&b.counts[sig&63], -int32(n))
		if ev, ok := b.events[sig]; ok {
			r.activate(ev, EvSignal, n)
		}
	}
	b.mu.Unlock()
}

// AddSignal registers cb to run when sig is delivered to the process.
// Returns the Event so the caller can Del/Free it.
func (r *Reactor) AddSignal(sig syscall.Signal, cb Callback, arg any) (*Event, error) {
	b := globalSignalBridge
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner != r {
		if err := r.initSignalBridgeLocked(); err != nil {
			return nil, err
		}
	}
	if _, ok := b.events[sig]; ok {
		return nil, newErr("reactor.signal", int(sig), ErrCodeUsage, "signal already registered", nil)
	}
	ev := NewEvent(r, int(sig), EvSignal|EvPersist, cb, arg)
	cnt := int32(0)
	ev.signalCount = &cnt
	b.events[sig] = ev
	signal.Notify(b.sigCh, sig)
	ev.st |= stateInserted

	r.mu.Lock()
	r.userEventCount++
	ev.st |= stateCounted
	r.mu.Unlock()
	return ev, nil
}

// RemoveSignal unregisters sig, zeroing the event's shared counter so
// any in-flight signal closure aborts (spec §4.3 "Removing an event").
func (r *Reactor) RemoveSignal(sig syscall.Signal) {
	b := globalSignalBridge
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev, ok := b.events[sig]; ok {
		if ev.signalCount != nil {
			atomic.StoreInt32(ev.signalCount, 0)
		}
		delete(b.events, sig)
		if ev.st&stateCounted != 0 {
			r.mu.Lock()
			r.userEventCount--
			ev.st &^= stateCounted
			r.mu.Unlock()
		}
	}
}

// teardownSignalBridge releases the bridge if r is its current owner.
func (r *Reactor) teardownSignalBridge() {
	b := globalSignalBridge
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner != r {
		return
	}
	close(b.stop)
	signal.Stop(b.sigCh)
	b.pipe.Close()
	b.owner = nil
	b.events = nil
}
