package reactor

import (
	"sync/atomic"
	"time"

	"github.com/corenet-io/reactor/internal/selfpipe"
)

// initNotify sets up the per-reactor cross-thread wake-up pipe and
// registers its read end as an internal, persistent, highest-priority
// readable event (spec §4.3 "Cross-thread notification").
func (r *Reactor) initNotify() error {
	p, err := selfpipe.New()
	if err != nil {
		return newErr("reactor.new", -1, ErrCodeFatalFD, "create notify pipe", err)
	}
	r.notifyPipe = p
	r.notifyEvent = &Event{
		reactor:   r,
		fd:        p.Read,
		mask:      EvRead | EvPersist,
		priority:  0,
		commonIdx: -1,
		heapIndex: -1,
		st:        stateInternal | stateInitialized,
	}
	r.notifyEvent.cb = func(fd int, res Mask, arg any) {
		var scratch [64]byte
		selfpipe.DrainAll(fd, scratch[:])
		atomic.StoreInt32(&r.notifyPending, 0)
	}
	return r.addEvent(r.notifyEvent, nil)
}

// notify wakes the reactor's dispatch loop if it might be sleeping.
// Coalesced via notifyPending so a storm of concurrent registrations
// costs one pipe write, per spec §4.3.
func (r *Reactor) notify() {
	if !atomic.CompareAndSwapInt32(&r.notifyPending, 0, 1) {
		return
	}
	selfpipe.WriteByte(r.notifyPipe.Write, 1)
}

// wakeIfEarlier wakes the reactor if t is earlier than whatever the
// adapter is currently configured to wait for. Conservative: callers
// that can't cheaply know the current wait deadline just always
// notify, relying on coalescing to keep it cheap.
func (r *Reactor) wakeIfEarlier(t time.Time) {
	r.notify()
}

func (r *Reactor) closeNotify() {
	r.notifyPipe.Close()
}
