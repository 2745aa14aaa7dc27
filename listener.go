package reactor

import (
	"net"
	"sync"

	"github.com/corenet-io/reactor/internal/netfd"
	"github.com/corenet-io/reactor/internal/rlog"
)

// AcceptCallback receives a freshly-accepted connection's fd; it is
// the caller's responsibility to wrap it in a BufferedSocket (spec
// §3 "Listener — accepts connections; constructs buffered-sockets").
type AcceptCallback func(l *Listener, fd int, peer net.Addr)

// Listener binds a TCP address and drives an accept loop off a
// persistent readable event.
type Listener struct {
	mu       sync.Mutex
	reactor  *Reactor
	fd       int
	event    *Event
	acceptCB AcceptCallback
	errorCB  func(l *Listener, err error)
	arg      any
	log      *rlog.Logger
}

// NewListener binds addr ("host:port", port 0 for ephemeral) with the
// given backlog and returns a Listener not yet accepting.
func NewListener(r *Reactor, addr string, backlog int, acceptCB AcceptCallback) (*Listener, error) {
	family, sa, err := netfd.ResolveTCP(addr)
	if err != nil {
		return nil, newErr("listener.new", -1, ErrCodeUsage, "resolve failed", err)
	}
	fd, err := netfd.NewStreamSocket(family)
	if err != nil {
		return nil, newErr("listener.new", -1, ErrCodeFatalFD, "socket failed", err)
	}
	if err := netfd.SetReuseAddr(fd); err != nil {
		netfd.Close(fd)
		return nil, newErr("listener.new", fd, ErrCodeFatalFD, "setsockopt failed", err)
	}
	if err := netfd.Bind(fd, sa); err != nil {
		netfd.Close(fd)
		return nil, newErr("listener.new", fd, ErrCodeFatalFD, "bind failed", err)
	}
	if err := netfd.Listen(fd, backlog); err != nil {
		netfd.Close(fd)
		return nil, newErr("listener.new", fd, ErrCodeFatalFD, "listen failed", err)
	}

	l := &Listener{reactor: r, fd: fd, acceptCB: acceptCB, log: rlog.Default()}
	l.event = NewEvent(r, fd, EvRead|EvPersist, l.onAcceptable, l)
	return l, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() (net.Addr, error) {
	return netfd.LocalAddr(l.fd)
}

// SetErrorCB installs a callback for accept-loop errors other than
// transient ones (spec §7 "Transient I/O" excludes these from the
// accept-cb path).
func (l *Listener) SetErrorCB(fn func(l *Listener, err error), arg any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorCB, l.arg = fn, arg
}

// Start begins accepting connections.
func (l *Listener) Start() error { return l.event.Add(nil) }

// Stop halts the accept loop without closing the listening socket.
func (l *Listener) Stop() error { return l.event.Del() }

// Close stops accepting and closes the listening socket.
func (l *Listener) Close() error {
	l.event.Del()
	l.event.Free()
	return netfd.Close(l.fd)
}

func (l *Listener) onAcceptable(fd int, res Mask, _ any) {
	for {
		clientFD, sa, err := netfd.Accept(fd)
		if err != nil {
			if netfd.IsRetriable(err) {
				return
			}
			l.mu.Lock()
			cb := l.errorCB
			l.mu.Unlock()
			if cb != nil {
				cb(l, newErr("listener.accept", fd, ErrCodeFatalFD, "accept failed", err))
			}
			return
		}
		if l.acceptCB != nil {
			l.acceptCB(l, clientFD, netfd.PeerAddr(sa))
		}
	}
}
