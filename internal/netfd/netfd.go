// Package netfd isolates the raw socket syscalls the buffered-socket
// and listener need for non-blocking connect/accept semantics that
// Go's net package does not expose directly (it resolves Dial/Accept
// synchronously against its own runtime poller). Mirrors the isolation
// pattern of internal/demux and internal/selfpipe.
package netfd

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ConnectOutcome classifies the result of a non-blocking connect
// attempt or its later completion check (spec §4.5 "Connect").
type ConnectOutcome int

const (
	ConnectDone ConnectOutcome = iota
	ConnectInProgress
	ConnectRefused
	ConnectFatal
)

// NewStreamSocket allocates a non-blocking, close-on-exec TCP socket
// for the given address family (unix.AF_INET or unix.AF_INET6).
func NewStreamSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// ResolveTCP parses a "host:port" address into a family and sockaddr
// suitable for Connect/Bind.
func ResolveTCP(addr string) (family int, sa unix.Sockaddr, err error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return 0, nil, err
	}
	ip4 := tcpAddr.IP.To4()
	if ip4 != nil {
		var a [4]byte
		copy(a[:], ip4)
		return unix.AF_INET, &unix.SockaddrInet4{Port: tcpAddr.Port, Addr: a}, nil
	}
	ip6 := tcpAddr.IP.To16()
	if ip6 == nil {
		return 0, nil, fmt.Errorf("netfd: unresolvable address %q", addr)
	}
	var a [16]byte
	copy(a[:], ip6)
	return unix.AF_INET6, &unix.SockaddrInet6{Port: tcpAddr.Port, Addr: a}, nil
}

// Connect issues a non-blocking connect(2) and classifies the
// immediate result.
func Connect(fd int, sa unix.Sockaddr) (ConnectOutcome, error) {
	err := unix.Connect(fd, sa)
	switch err {
	case nil:
		return ConnectDone, nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EAGAIN:
		return ConnectInProgress, nil
	case unix.ECONNREFUSED:
		return ConnectRefused, err
	default:
		return ConnectFatal, err
	}
}

// CheckConnect reads SO_ERROR after a writable wakeup during a
// pending connect, classifying completion the same way Connect does.
func CheckConnect(fd int) (ConnectOutcome, error) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return ConnectFatal, err
	}
	switch unix.Errno(errno) {
	case 0:
		return ConnectDone, nil
	case unix.EINPROGRESS:
		return ConnectInProgress, nil
	case unix.ECONNREFUSED:
		return ConnectRefused, unix.Errno(errno)
	default:
		if errno != 0 {
			return ConnectFatal, unix.Errno(errno)
		}
		return ConnectDone, nil
	}
}

// Bind, Listen, Accept and Close wrap the equivalent listener-side
// syscalls for the non-blocking Listener type.

func Bind(fd int, sa unix.Sockaddr) error { return unix.Bind(fd, sa) }

func Listen(fd int, backlog int) error { return unix.Listen(fd, backlog) }

// Accept accepts one pending connection, returning a non-blocking,
// close-on-exec client fd.
func Accept(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

func Close(fd int) error { return unix.Close(fd) }

// SetReuseAddr sets SO_REUSEADDR, standard practice for a listening
// socket that may be rebound quickly after restart.
func SetReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// LocalAddr returns fd's bound local address as a net.TCPAddr.
func LocalAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	return sockaddrToTCPAddr(sa), nil
}

// PeerAddr converts a sockaddr returned by Accept into a net.TCPAddr.
func PeerAddr(sa unix.Sockaddr) net.Addr {
	return sockaddrToTCPAddr(sa)
}

func sockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	default:
		return nil
	}
}

// IsRetriable reports whether err is a transient condition the caller
// should simply wait out (spec §7 "Transient I/O").
func IsRetriable(err error) bool {
	switch err {
	case unix.EAGAIN, unix.EINTR:
		return true
	default:
		return false
	}
}
