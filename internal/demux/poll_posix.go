//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package demux

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	register("poll", openPoll)
}

// pollBackend is the portable level-triggered fallback: O(n) per
// wait, no edge-triggered mode, but works on every POSIX target.
// Grounded on the same adapter shape as epollBackend; unlike epoll it
// tracks its own fd->mask table since unix.Poll takes a flat slice.
type pollBackend struct {
	mu    sync.Mutex
	masks map[int]uint32
}

func openPoll() (Backend, error) {
	return &pollBackend{masks: make(map[int]uint32)}, nil
}

func (p *pollBackend) Name() string        { return "poll" }
func (p *pollBackend) Features() Feature   { return 0 }
func (p *pollBackend) NeedsReinit() bool   { return false }

func (p *pollBackend) Add(fd int, oldMask, newMask uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.masks[fd] = newMask
	return nil
}

func (p *pollBackend) Del(fd int, oldMask, removedMask uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := oldMask &^ removedMask
	if remaining == 0 {
		delete(p.masks, fd)
	} else {
		p.masks[fd] = remaining
	}
	return nil
}

func (p *pollBackend) Dispatch(timeout *time.Duration, activate func(fd int, mask uint32)) error {
	p.mu.Lock()
	fds := make([]unix.PollFd, 0, len(p.masks))
	for fd, mask := range p.masks {
		var events int16
		if mask&Readable != 0 {
			events |= unix.POLLIN
		}
		if mask&Writable != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	p.mu.Unlock()

	ms := -1
	if timeout != nil {
		ms = int(timeout.Milliseconds())
		if ms < 0 {
			ms = 0
		}
	}

	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	if n == 0 {
		return nil
	}
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		var mask uint32
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			mask |= Readable
		}
		if pfd.Revents&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0 {
			mask |= Writable
		}
		if mask != 0 {
			activate(int(pfd.Fd), mask)
		}
	}
	return nil
}

func (p *pollBackend) Close() error { return nil }
