// Package selfpipe creates the small non-blocking, close-on-exec pipe
// pairs the reactor uses for cross-thread wake-ups and for the signal
// bridge (spec §4.2, §4.3). Isolated here so the root reactor package
// never needs to import golang.org/x/sys/unix directly.
package selfpipe

import "golang.org/x/sys/unix"

// Pair is one end-pair of a self-pipe: Read is the fd to register
// with the reactor as a readable event, Write is the fd user code (or
// a signal handler) writes single bytes into.
type Pair struct {
	Read  int
	Write int
}

// New creates a non-blocking, close-on-exec pipe pair.
func New() (Pair, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return Pair{}, err
	}
	return Pair{Read: fds[0], Write: fds[1]}, nil
}

// Close closes both ends.
func (p Pair) Close() error {
	err1 := unix.Close(p.Read)
	err2 := unix.Close(p.Write)
	if err1 != nil {
		return err1
	}
	return err2
}

// WriteByte writes a single byte to the write end, ignoring EAGAIN
// (the pipe is full, meaning a wake-up is already pending — exactly
// the coalescing behavior the reactor wants).
func WriteByte(fd int, b byte) error {
	buf := [1]byte{b}
	_, err := unix.Write(fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// DrainAll reads every currently-pending byte from fd, returning the
// count read and the bytes themselves. Used by both the notify-pipe callback and
// the signal-bridge callback.
func DrainAll(fd int, scratch []byte) (int, []byte, error) {
	total := 0
	var collected []byte
	for {
		n, err := unix.Read(fd, scratch)
		if n > 0 {
			total += n
			collected = append(collected, scratch[:n]...)
		}
		if err == unix.EAGAIN || n == 0 {
			return total, collected, nil
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, collected, err
		}
	}
}
