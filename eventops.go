package reactor

import (
	"container/heap"
	"sync/atomic"
	"time"

	"github.com/corenet-io/reactor/internal/demux"
)

// maskToDemux narrows a reactor Mask down to the plain readable/
// writable bits the demultiplexer understands.
func maskToDemux(m Mask) uint32 {
	var d uint32
	if m&EvRead != 0 {
		d |= demux.Readable
	}
	if m&EvWrite != 0 {
		d |= demux.Writable
	}
	return d
}

// fdInterestUnion computes the union of configured read/write
// interests across every registered event sharing fd other than
// exclude, used as the adapter's "old mask" parameter (spec §4.1). A
// BufferedSocket registers a read event and a write event on the same
// fd, so this is rarely just one event's mask. Caller must hold r.mu.
func (r *Reactor) fdInterestUnion(fd int, exclude *Event) Mask {
	var m Mask
	for _, ev := range r.registered[fd] {
		if ev != exclude {
			m |= ev.mask & (EvRead | EvWrite)
		}
	}
	return m
}

// addEvent implements spec §4.3 "Adding an event".
func (r *Reactor) addEvent(e *Event, timeout *time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.reactor != r {
		return newErr("event.add", e.fd, ErrCodeUsage, "event belongs to a different reactor", nil)
	}

	// wait if this exact signal event is currently dispatching on
	// another goroutine, so re-adding doesn't race its in-flight count.
	for e.st&stateInActivation != 0 && e.mask&EvSignal != 0 && r.currentEvent == e {
		r.currentEventCond.Wait()
	}

	if e.mask&(EvRead|EvWrite) != 0 && e.st&stateInserted == 0 {
		old := r.fdInterestUnion(e.fd, e)
		newMask := old | (e.mask & (EvRead | EvWrite))
		if err := r.backend.Add(e.fd, maskToDemux(old), maskToDemux(newMask)); err != nil {
			return newErr("event.add", e.fd, ErrCodeDemuxInconsistency, "backend add failed", err)
		}
		r.registered[e.fd] = append(r.registered[e.fd], e)
		e.st |= stateInserted
	}

	if e.st&stateInternal == 0 && e.st&stateCounted == 0 {
		r.userEventCount++
		e.st |= stateCounted
	}

	if timeout != nil {
		d := *timeout
		if e.st&stateInTimer != 0 {
			r.removeFromTimerLocked(e)
		} else if e.st&stateInActivation != 0 && e.res == EvTimeout {
			r.removeFromActivationLocked(e)
		}
		e.duration = d
		if e.commonIdx >= 0 {
			r.addToCommonTimeout(e, e.commonIdx)
		} else {
			e.absTimeout = r.now().Add(d)
			e.st |= stateInTimer | stateTimeoutBearing
			heap.Push(&r.timers, e)
			if r.timers[0] == e {
				r.wakeIfEarlier(e.absTimeout)
			}
		}
	}
	return nil
}

// AddWithCommonTimeout adds e using a previously-registered common
// timeout class idx (see Reactor.RegisterCommonTimeout).
func (r *Reactor) AddWithCommonTimeout(e *Event, idx int) error {
	r.mu.Lock()
	e.commonIdx = idx
	r.mu.Unlock()
	d := r.commonTimeouts[idx].duration
	return r.addEvent(e, &d)
}

// delEvent implements spec §4.3 "Removing an event".
func (r *Reactor) delEvent(e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delEventLocked(e)
}

func (r *Reactor) delEventLocked(e *Event) error {
	// wait for an in-flight callback on another goroutine to finish,
	// guaranteeing the caller's free-after-del lifetime rule (spec §5).
	for r.currentEvent == e {
		r.currentEventCond.Wait()
	}

	if e.mask&EvSignal != 0 && e.signalCount != nil {
		atomic.StoreInt32(e.signalCount, 0)
	}

	if e.st&stateInActivation != 0 {
		r.removeFromActivationLocked(e)
	}
	if e.st&stateInTimer != 0 {
		if e.commonIdx >= 0 {
			r.removeFromCommonTimeout(e)
		} else {
			r.removeFromTimerLocked(e)
		}
	}
	if e.st&stateInserted != 0 {
		if e.mask&(EvRead|EvWrite) != 0 {
			r.unregisterLocked(e)
		}
		e.st &^= stateInserted
	}

	if e.st&stateCounted != 0 {
		r.userEventCount--
		e.st &^= stateCounted
	}
	return nil
}

// unregisterLocked drops e from r.registered[e.fd] and tells the
// backend to remove e's interest bits, leaving any other event still
// sharing the fd (e.g. a BufferedSocket's other direction) registered.
// Caller must hold r.mu and e.st&stateInserted must be set.
func (r *Reactor) unregisterLocked(e *Event) {
	others := r.fdInterestUnion(e.fd, e)
	removed := e.mask & (EvRead | EvWrite)
	if err := r.backend.Del(e.fd, maskToDemux(others|removed), maskToDemux(removed)); err != nil {
		r.log.Warnf("event.del: backend del fd=%d: %v", e.fd, err)
	}
	evs := r.registered[e.fd]
	for i, ev := range evs {
		if ev == e {
			evs = append(evs[:i], evs[i+1:]...)
			break
		}
	}
	if len(evs) == 0 {
		delete(r.registered, e.fd)
	} else {
		r.registered[e.fd] = evs
	}
}

func (r *Reactor) removeFromTimerLocked(e *Event) {
	if e.heapIndex >= 0 {
		heap.Remove(&r.timers, e.heapIndex)
	}
	e.st &^= (stateInTimer)
}

func (r *Reactor) removeFromActivationLocked(e *Event) {
	if e.actElem != nil {
		pri := e.priority
		if pri >= 0 && pri < len(r.activation) {
			r.activation[pri].Remove(e.actElem)
		}
		e.actElem = nil
	}
	e.st &^= stateInActivation
}

// activate implements spec §4.3 "Activating an event explicitly".
func (r *Reactor) activate(e *Event, mask Mask, ncalls int) {
	r.mu.Lock()
	r.activateLocked(e, mask, ncalls)
	r.mu.Unlock()
}

func (r *Reactor) activateLocked(e *Event, mask Mask, ncalls int) {
	if e.st&stateInActivation != 0 {
		e.res |= mask
		return
	}
	e.res = mask
	if e.mask&EvSignal != 0 && e.signalCount != nil {
		atomic.AddInt32(e.signalCount, int32(ncalls))
	}
	e.actElem = r.activation[e.priority].PushBack(e)
	e.st |= stateInActivation
	if r.runningPri >= 0 && e.priority < r.runningPri {
		r.continueAt = e.priority
	}
}

// popActivation removes and returns the front event of priority
// bucket pri, applying the "persistent events stay inserted" rule.
func (r *Reactor) popActivation(pri int) (*Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.activation[pri]
	front := q.Front()
	if front == nil {
		return nil, false
	}
	ev := front.Value.(*Event)
	q.Remove(front)
	ev.actElem = nil
	ev.st &^= stateInActivation
	if ev.mask&EvPersist == 0 {
		if ev.st&stateInserted != 0 && ev.mask&(EvRead|EvWrite) != 0 {
			r.unregisterLocked(ev)
			ev.st &^= stateInserted
		}
		if ev.st&stateCounted != 0 {
			r.userEventCount--
			ev.st &^= stateCounted
		}
	}
	r.runningPri = pri
	r.currentEvent = ev
	return ev, true
}

// runOneActivation invokes ev's closure under the correct shape
// (plain / signal / persistent — spec §4.3 "Event closures").
func (r *Reactor) runOneActivation(ev *Event) {
	res := ev.res
	switch {
	case ev.mask&EvSignal != 0:
		r.runSignalClosure(ev, res)
	case ev.mask&EvPersist != 0:
		r.runPersistentClosure(ev, res)
	default:
		r.runPlainClosure(ev, res)
	}
	r.mu.Lock()
	r.currentEvent = nil
	r.currentEventCond.Broadcast()
	r.mu.Unlock()
}

func (r *Reactor) runPlainClosure(ev *Event, res Mask) {
	if ev.cb != nil {
		ev.cb(ev.fd, res, ev.arg)
	}
}

func (r *Reactor) runSignalClosure(ev *Event, res Mask) {
	if ev.signalCount == nil {
		return
	}
	for {
		r.mu.Lock()
		n := atomic.LoadInt32(ev.signalCount)
		brk := r.brk
		r.mu.Unlock()
		if n <= 0 || brk {
			return
		}
		atomic.AddInt32(ev.signalCount, -1)
		if ev.cb != nil {
			ev.cb(ev.fd, res, ev.arg)
		}
	}
}

// runPersistentClosure re-arms a timeout-bearing persistent event
// before invoking cb, preferring "previous scheduled time + period" to
// preserve phase, falling back to "now + period" when the prior
// firing wasn't a timer (spec §4.3 "Persistent").
func (r *Reactor) runPersistentClosure(ev *Event, res Mask) {
	if ev.st&stateTimeoutBearing != 0 && ev.duration > 0 {
		r.mu.Lock()
		if ev.st&stateInTimer != 0 {
			if ev.commonIdx >= 0 {
				r.removeFromCommonTimeout(ev)
			} else {
				r.removeFromTimerLocked(ev)
			}
		}
		var next time.Time
		if res&EvTimeout != 0 {
			next = ev.absTimeout.Add(ev.duration)
		} else {
			next = r.now().Add(ev.duration)
		}
		ev.absTimeout = next
		if ev.commonIdx >= 0 {
			r.addToCommonTimeout(ev, ev.commonIdx)
		} else {
			ev.st |= stateInTimer
			heap.Push(&r.timers, ev)
			if r.timers[0] == ev {
				r.wakeIfEarlier(ev.absTimeout)
			}
		}
		r.mu.Unlock()
	}
	if ev.cb != nil {
		ev.cb(ev.fd, res, ev.arg)
	}
}
