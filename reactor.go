// Package reactor implements an event-driven I/O reactor, a companion
// scatter-gather byte-buffer engine, and a buffered-socket abstraction
// layered on top of it, following the design of classic C reactor
// libraries (libevent-style bufferevents) reworked in idiomatic Go.
package reactor

import (
	"container/heap"
	"container/list"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/corenet-io/reactor/internal/demux"
	"github.com/corenet-io/reactor/internal/rlog"
	"github.com/corenet-io/reactor/internal/selfpipe"
)

// DispatchFlag controls a single call to Reactor.Dispatch.
type DispatchFlag int

const (
	DispatchDefault DispatchFlag = iota
	DispatchOnce
	DispatchNonBlocking
)

// Reactor multiplexes fd readiness, timers, and signals, and invokes
// user callbacks from a single dispatch loop (spec §4.3).
type Reactor struct {
	mu sync.Mutex

	cfg    Config
	backend demux.Backend
	log    *rlog.Logger

	// registered holds every inserted I/O event, keyed by fd. A single
	// fd commonly carries two entries — a BufferedSocket's read event
	// and its write event are separate *Event values sharing one fd —
	// so interest on that fd is the union of every entry's mask.
	registered map[int][]*Event

	// userEventCount counts events currently added to this reactor,
	// excluding internal bookkeeping events (notify pipe, signal
	// bridge). dispatchOnce's "nothing registered at all" check (spec
	// §4.3 step 4, §6 "dispatch") is based on this, not len(registered),
	// since the internal notify/signal events live in registered for
	// the reactor's entire lifetime.
	userEventCount int

	activation []*list.List // one FIFO per priority level, ascending = higher priority
	runningPri int          // priority currently being drained, -1 if none
	continueAt int          // set by activate() when a higher-priority event fires mid-drain

	timers         timerHeap
	commonTimeouts []*commonTimeoutQueue

	deferred *list.List

	notifyPipe      selfpipe.Pair
	notifyEvent     *Event
	notifyPending   int32
	signalReadEvent *Event

	cachedNow time.Time

	terminate   bool
	brk         bool
	dispatching bool

	currentEvent     *Event // the event whose callback is presently running
	currentEventCond *sync.Cond
}

func (r *Reactor) defaultPriority() int {
	return len(r.activation) / 2
}

// New creates a Reactor with default configuration.
func New() (*Reactor, error) {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Reactor honoring cfg (spec §4.3 "new").
func NewWithConfig(cfg *Config) (*Reactor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Priorities <= 0 {
		cfg.Priorities = 3
	}

	avoid := envAvoidSet(cfg, demux.CandidateNames())
	backend, err := demux.Open(avoid, cfg.RequireFeatures)
	if err != nil {
		return nil, newErr("reactor.new", -1, ErrCodeFatalFD, "no eligible demultiplexer backend", err)
	}
	if os.Getenv("SHOW_METHOD") != "" && !cfg.IgnoreEnv {
		fmt.Fprintf(os.Stderr, "reactor: using method %q\n", backend.Name())
	}

	r := &Reactor{
		cfg:        *cfg,
		backend:    backend,
		log:        rlog.Default(),
		registered: make(map[int][]*Event),
		activation: make([]*list.List, cfg.Priorities),
		timers:     make(timerHeap, 0),
		deferred:   list.New(),
		runningPri: -1,
		continueAt: -1,
	}
	for i := range r.activation {
		r.activation[i] = list.New()
	}
	r.currentEventCond = sync.NewCond(&r.mu)
	heap.Init(&r.timers)

	if err := r.initNotify(); err != nil {
		backend.Close()
		return nil, err
	}
	return r, nil
}

// GetMethodName returns the chosen demultiplexer backend's name.
func (r *Reactor) GetMethodName() string { return r.backend.Name() }

// GetFeatures returns the chosen backend's feature bitset.
func (r *Reactor) GetFeatures() Feature { return r.backend.Features() }

// SetPriorities resizes the activation-queue array. Must be called
// while no events are active (spec §4.3).
func (r *Reactor) SetPriorities(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 {
		return newErr("reactor.set_priorities", -1, ErrCodeUsage, "n must be positive", nil)
	}
	for _, q := range r.activation {
		if q.Len() > 0 {
			return newErr("reactor.set_priorities", -1, ErrCodeUsage, "events are active", nil)
		}
	}
	na := make([]*list.List, n)
	for i := range na {
		na[i] = list.New()
	}
	r.activation = na
	r.cfg.Priorities = n
	return nil
}

// Free tears the reactor down in dependency order (spec §4.3 "free").
func (r *Reactor) Free() error {
	r.mu.Lock()
	// internal notification event first
	if r.notifyEvent != nil {
		r.delEventLocked(r.notifyEvent)
	}
	if r.signalReadEvent != nil {
		r.delEventLocked(r.signalReadEvent)
	}
	var all []*Event
	for _, evs := range r.registered {
		all = append(all, evs...)
	}
	for _, ev := range all {
		r.delEventLocked(ev)
	}
	r.timers = r.timers[:0]
	r.commonTimeouts = nil
	r.activation = nil
	r.mu.Unlock()

	r.teardownSignalBridge()
	r.closeNotify()
	return r.backend.Close()
}

// LoopBreak asks dispatch to stop after the current callback, before
// the next callback runs (spec §4.3 "loop_break").
func (r *Reactor) LoopBreak() {
	r.mu.Lock()
	r.brk = true
	r.mu.Unlock()
	r.notify()
}

// LoopExit schedules termination. A nil delay exits at the next
// iteration boundary; otherwise a one-shot internal timer sets the
// terminate flag when it fires (spec §4.3 "loop_exit").
func (r *Reactor) LoopExit(delay *time.Duration) {
	if delay == nil {
		r.mu.Lock()
		r.terminate = true
		r.mu.Unlock()
		r.notify()
		return
	}
	ev := &Event{reactor: r, fd: -1, heapIndex: -1, commonIdx: -1, st: stateInternal}
	ev.cb = func(int, Mask, any) {
		r.mu.Lock()
		r.terminate = true
		r.mu.Unlock()
	}
	d := *delay
	r.addEvent(ev, &d)
}

// Once registers a non-persistent event that removes and frees itself
// after its first activation (spec §6 "once").
func (r *Reactor) Once(fd int, mask Mask, cb Callback, arg any, timeout *time.Duration) error {
	var ev *Event
	ev = NewEvent(r, fd, mask&^EvPersist, func(fd int, res Mask, a any) {
		cb(fd, res, a)
		ev.Del()
		ev.Free()
	}, arg)
	return ev.Add(timeout)
}
