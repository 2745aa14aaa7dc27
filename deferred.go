package reactor

import "container/list"

// maxDeferredPerIteration bounds how many deferred callbacks dispatch
// drains per loop iteration before returning to the top (spec §4.3
// step 10), so a deferred callback that re-queues itself cannot starve
// the adapter's dispatch call forever.
const maxDeferredPerIteration = 16

// deferredCB is a self-scheduling one-shot continuation (spec §3
// "Deferred-callback record").
type deferredCB struct {
	fn     func()
	queued bool
	elem   *list.Element
}

// QueueDeferred schedules fn to run once, after the current dispatch
// iteration's activation queues drain and before the next
// demultiplexer wait (spec §5 ordering guarantees). Safe to call from
// any goroutine; if called from outside the reactor's own loop it
// wakes the reactor via the cross-thread notify pipe.
func (r *Reactor) QueueDeferred(fn func()) {
	r.mu.Lock()
	d := &deferredCB{fn: fn}
	d.elem = r.deferred.PushBack(d)
	d.queued = true
	r.mu.Unlock()
	// Coalesced: notify() is a no-op if a wake-up is already pending;
	// otherwise it wakes the reactor, whichever goroutine is queuing.
	r.notify()
}

// drainDeferred runs up to maxDeferredPerIteration queued callbacks.
// Returns the number actually run. Caller must NOT hold r.mu; this
// acquires/releases it per-item so a deferred callback may itself
// queue more reactor operations.
func (r *Reactor) drainDeferred() int {
	n := 0
	for n < maxDeferredPerIteration {
		r.mu.Lock()
		front := r.deferred.Front()
		if front == nil {
			r.mu.Unlock()
			break
		}
		d := front.Value.(*deferredCB)
		r.deferred.Remove(front)
		d.queued = false
		r.mu.Unlock()

		d.fn()
		n++
	}
	return n
}
