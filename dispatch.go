package reactor

import (
	"container/heap"
	"time"
)

// Dispatch runs one or more iterations of the event loop, per the
// algorithm in spec §4.3 "Algorithm: one dispatch iteration". It
// returns 0 normally, 1 if no events were registered at all, or a
// non-nil error on catastrophic adapter failure.
func (r *Reactor) Dispatch(flag DispatchFlag) (int, error) {
	for {
		code, didWork, err := r.dispatchOnce(flag)
		if err != nil {
			return -1, err
		}
		if code == 1 {
			return 1, nil
		}
		if flag == DispatchNonBlocking {
			return 0, nil
		}
		if flag == DispatchOnce && didWork {
			return 0, nil
		}
		if code < 0 {
			return 0, nil // terminate/break requested
		}
	}
}

// dispatchOnce performs exactly one pass through steps 1-10 of the
// algorithm. Returns (1, false, nil) if nothing is registered,
// (-1, _, nil) if termination/break fired, else (0, didWork, err).
func (r *Reactor) dispatchOnce(flag DispatchFlag) (int, bool, error) {
	r.mu.Lock()
	r.clearClock()

	if r.terminate || r.brk {
		r.terminate = false
		r.brk = false
		r.mu.Unlock()
		return -1, false, nil
	}

	var timeout *time.Duration
	hasActivation := r.deferred.Len() > 0
	if !hasActivation {
		for _, q := range r.activation {
			if q.Len() > 0 {
				hasActivation = true
				break
			}
		}
	}
	if hasActivation || flag == DispatchNonBlocking {
		zero := time.Duration(0)
		timeout = &zero
	} else if r.timers.Len() > 0 {
		d := time.Until(r.timers[0].absTimeout)
		if d < 0 {
			d = 0
		}
		timeout = &d
	} // else timeout stays nil: block indefinitely

	if r.userEventCount == 0 && !hasActivation && r.timers.Len() == 0 {
		r.mu.Unlock()
		return 1, false, nil
	}

	r.refreshClock()
	r.clearClock()
	r.dispatching = true
	r.mu.Unlock()

	err := r.backend.Dispatch(timeout, r.onBackendReadiness)

	r.mu.Lock()
	r.dispatching = false
	r.refreshClock()
	r.mu.Unlock()

	if err != nil {
		return 0, false, newErr("reactor.dispatch", -1, ErrCodeFatalFD, "demultiplexer dispatch failed", err)
	}

	r.mu.Lock()
	// step 8: expire timer heap and common-timeout queues
	now := r.now()
	for r.timers.Len() > 0 && !r.timers[0].absTimeout.After(now) {
		ev := heap.Pop(&r.timers).(*Event)
		ev.st &^= stateInTimer
		r.activateLocked(ev, EvTimeout, 1)
	}
	r.expireCommonTimeouts()
	r.mu.Unlock()

	didWork := r.drainActivations()
	deferredRan := r.drainDeferred() > 0

	return 0, didWork || deferredRan, nil
}

// onBackendReadiness is passed to the backend's Dispatch as the
// activation hook; it looks up every registered Event for fd (a
// BufferedSocket keeps one for each direction on the same fd) and
// activates each whose mask intersects the observed readiness.
func (r *Reactor) onBackendReadiness(fd int, mask uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs, ok := r.registered[fd]
	if !ok {
		return
	}
	var m Mask
	if mask&1 != 0 { // demux.Readable
		m |= EvRead
	}
	if mask&2 != 0 { // demux.Writable
		m |= EvWrite
	}
	for _, ev := range evs {
		if got := m & ev.mask; got != 0 {
			r.activateLocked(ev, got, 1)
		}
	}
}

// drainActivations runs step 9: drain activation queues from the
// lowest-numbered (highest-priority) bucket upward, honoring
// event_continue restarts and loop_break.
func (r *Reactor) drainActivations() bool {
	didWork := false
	pri := 0
	r.mu.Lock()
	numPri := len(r.activation)
	r.mu.Unlock()

	for pri < numPri {
		ev, ok := r.popActivation(pri)
		if !ok {
			pri++
			continue
		}
		didWork = true
		r.runOneActivation(ev)

		r.mu.Lock()
		brk := r.brk
		restart := r.continueAt
		r.continueAt = -1
		numPri = len(r.activation)
		r.mu.Unlock()
		if brk {
			break
		}
		if restart >= 0 && restart < pri {
			pri = restart
		}
	}
	r.mu.Lock()
	r.runningPri = -1
	r.mu.Unlock()
	return didWork
}
