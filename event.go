package reactor

import (
	"container/list"
	"time"
)

// Mask is an interest / readiness bitmask (spec §3, "Event").
type Mask uint32

const (
	EvRead    Mask = 1 << iota // readable
	EvWrite                    // writable
	EvSignal                   // signal delivery
	EvTimeout                  // timer expiration
	EvPersist                  // stays registered after firing
	EvET                       // request edge-triggered semantics
)

func (m Mask) String() string {
	s := ""
	for _, p := range []struct {
		bit  Mask
		name string
	}{{EvRead, "R"}, {EvWrite, "W"}, {EvSignal, "S"}, {EvTimeout, "T"}, {EvPersist, "P"}, {EvET, "ET"}} {
		if m&p.bit != 0 {
			s += p.name
		}
	}
	if s == "" {
		return "-"
	}
	return s
}

// state tracks which reactor structures currently contain this event,
// per spec's event-state invariant in §3.
type state uint32

const (
	stateInitialized state = 1 << iota
	stateInserted          // present in the reactor's registered set
	stateInTimer           // present in the timer heap or a common-timeout queue
	stateInActivation      // present in an activation queue
	stateInternal          // reactor-owned (notify pipe, signal bridge, loop_exit)
	stateTimeoutBearing    // carries a configured timeout
	stateCounted           // included in Reactor.userEventCount
)

// Callback is invoked by the reactor when an event fires. res is the
// observed readiness mask for this activation (may include EvTimeout
// even for an I/O event that was also armed with a deadline).
type Callback func(fd int, res Mask, arg any)

// Event is a single registration of interest, per spec §3. An Event
// must only ever be added to the Reactor it was created against, and
// must not be mutated concurrently with that reactor's dispatch loop
// except through its own methods (which take the reactor's lock).
type Event struct {
	reactor *Reactor

	fd       int  // file descriptor, or signal number when mask&EvSignal != 0
	mask     Mask // configured interest
	priority int

	cb  Callback
	arg any

	duration   time.Duration // configured relative timeout, 0 if none
	absTimeout time.Time     // next absolute expiration
	commonIdx  int           // index into reactor.commonTimeouts, -1 if not common

	st  state
	res Mask // observed readiness while queued in an activation bucket

	heapIndex int           // index in the timer min-heap, -1 if absent
	ctElem    *list.Element // element in a common-timeout FIFO, nil if absent
	actElem   *list.Element // element in its priority activation queue, nil if absent

	// signal bookkeeping: shared counter decremented once per queued
	// firing, so a concurrent Del can abort in-flight dispatch by
	// storing zero into it from under a running closure.
	signalCount *int32
}

// NewEvent creates an Event bound to r. It is not yet added; call Add
// to register it.
func NewEvent(r *Reactor, fd int, mask Mask, cb Callback, arg any) *Event {
	return &Event{
		reactor:   r,
		fd:        fd,
		mask:      mask,
		cb:        cb,
		arg:       arg,
		priority:  r.defaultPriority(),
		commonIdx: -1,
		heapIndex: -1,
		st:        stateInitialized,
	}
}

// Assign rebinds an already-constructed Event to new parameters before
// it has been added to a reactor.
func (e *Event) Assign(fd int, mask Mask, cb Callback, arg any) {
	e.fd, e.mask, e.cb, e.arg = fd, mask, cb, arg
}

// PrioritySet assigns this event's activation priority. Must not be
// called while the event is active in an activation queue.
func (e *Event) PrioritySet(p int) error {
	r := e.reactor
	r.mu.Lock()
	defer r.mu.Unlock()
	if p < 0 || p >= len(r.activation) {
		return newErr("event.priority_set", e.fd, ErrCodeUsage, "priority out of range", nil)
	}
	if e.st&stateInActivation != 0 {
		return newErr("event.priority_set", e.fd, ErrCodeUsage, "event is active", nil)
	}
	e.priority = p
	return nil
}

// Pending reports whether mask bits of e are currently relevant
// (inserted, in the timer heap, or queued) and, if a timeout is
// configured, returns time until it fires.
func (e *Event) Pending(mask Mask) (pending bool, timeout time.Duration, ok bool) {
	r := e.reactor
	r.mu.Lock()
	defer r.mu.Unlock()
	pending = e.st&(stateInserted|stateInTimer|stateInActivation) != 0 && e.mask&mask != 0
	if e.st&stateTimeoutBearing != 0 {
		return pending, time.Until(e.absTimeout), true
	}
	return pending, 0, false
}

// Add registers e with its reactor. If timeout is non-nil it arms (or
// re-arms) the event's deadline; see Reactor.addEvent for the full
// algorithm (spec §4.3, "Adding an event").
func (e *Event) Add(timeout *time.Duration) error {
	return e.reactor.addEvent(e, timeout)
}

// Del removes e from the reactor (spec §4.3, "Removing an event").
func (e *Event) Del() error {
	return e.reactor.delEvent(e)
}

// Active synthetically activates e with the given readiness mask, as
// if the demultiplexer (or timer heap) had observed it, per spec
// §4.3 "Activating an event explicitly". ncalls matters only for
// signal events, where it is the observed signal count.
func (e *Event) Active(mask Mask, ncalls int) {
	e.reactor.activate(e, mask, ncalls)
}

// Free releases e. The event must already be removed (Del) or never
// added.
func (e *Event) Free() {
	e.reactor = nil
	e.cb = nil
	e.arg = nil
}
