//go:build linux

package demux

import (
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	register("epoll", openEpoll)
}

// epollBackend is the Linux demultiplexer, grounded on the poller
// abstraction in socket515-gaio/watcher.go (pfd *poller,
// chEventNotify) and on golang.org/x/sys/unix for the raw syscalls,
// the same package ublk's queue runner uses for ring/fd plumbing.
type epollBackend struct {
	epfd   int
	events []unix.EpollEvent
}

func openEpoll() (Backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{epfd: fd, events: make([]unix.EpollEvent, 256)}, nil
}

func (e *epollBackend) Name() string { return "epoll" }

func (e *epollBackend) Features() Feature {
	return FeatureEdgeTriggered | FeatureO1 | FeatureArbitraryFD
}

func (e *epollBackend) NeedsReinit() bool { return true }

func toEpollEvents(mask uint32) uint32 {
	var ev uint32 = unix.EPOLLET
	if mask&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if mask&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Add registers or updates interest. If the fd had no prior interest
// it performs ADD; otherwise MOD. Per spec §4.1, a MOD that fails with
// ENOENT (the fd was silently dropped by the kernel, e.g. closed and
// reopened under us) falls back to ADD, and vice versa for an ADD that
// fails with EEXIST — edge-triggered back-ends must tolerate this
// because the reactor cannot always tell the fd was recycled.
func (e *epollBackend) Add(fd int, oldMask, newMask uint32) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(newMask), Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if oldMask == 0 {
		op = unix.EPOLL_CTL_ADD
	}
	err := unix.EpollCtl(e.epfd, op, fd, ev)
	if err == unix.ENOENT && op == unix.EPOLL_CTL_MOD {
		return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	}
	if err == unix.EEXIST && op == unix.EPOLL_CTL_ADD {
		return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	}
	return err
}

// Del removes fd entirely if removedMask clears all remaining
// interest, else downgrades via MOD. ENOENT/EBADF/EPERM are non-fatal:
// the fd already vanished from the kernel's perspective.
func (e *epollBackend) Del(fd int, oldMask, removedMask uint32) error {
	remaining := oldMask &^ removedMask
	var err error
	if remaining == 0 {
		err = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	} else {
		ev := &unix.EpollEvent{Events: toEpollEvents(remaining), Fd: int32(fd)}
		err = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	}
	if err == unix.ENOENT || err == unix.EBADF || err == unix.EPERM {
		return nil
	}
	return err
}

func (e *epollBackend) Dispatch(timeout *time.Duration, activate func(fd int, mask uint32)) error {
	ms := -1
	if timeout != nil {
		ms = int(timeout.Milliseconds())
		if ms < 0 {
			ms = 0
		}
	}
	n, err := unix.EpollWait(e.epfd, e.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		ev := e.events[i]
		var mask uint32
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			mask |= Readable
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			mask |= Writable
		}
		if mask != 0 {
			activate(int(ev.Fd), mask)
		}
	}
	// the events buffer saturated this cycle; grow it so future
	// cycles can observe more fds in a single wait.
	if n == len(e.events) {
		e.events = make([]unix.EpollEvent, len(e.events)*2)
	}
	return nil
}

func (e *epollBackend) Close() error {
	return unix.Close(e.epfd)
}
