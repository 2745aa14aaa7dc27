// Package fileio isolates the mmap/sendfile/readv/writev syscalls the
// byte-buffer's file-backed segments need, keeping golang.org/x/sys
// out of the root package's import graph (mirrors internal/demux and
// internal/selfpipe).
package fileio

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

func ptrTo(v *syscall.Iovec) unsafe.Pointer { return unsafe.Pointer(v) }

// Mmap maps length bytes of fd starting at offset, read-only.
func Mmap(fd int, offset int64, length int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, unix.PROT_READ, unix.MAP_SHARED)
}

// Munmap unmaps a slice previously returned by Mmap.
func Munmap(b []byte) error {
	return unix.Munmap(b)
}

// Sendfile writes up to count bytes from inFd at offset to outFd,
// returning the number of bytes actually sent and the advanced
// offset.
func Sendfile(outFd, inFd int, offset int64, count int) (written int, newOffset int64, err error) {
	off := offset
	n, err := unix.Sendfile(outFd, inFd, &off, count)
	return n, off, err
}

// Readv performs a vectored read across up to len(bufs) buffers.
func Readv(fd int, bufs [][]byte) (int, error) {
	iovs := make([][]byte, 0, len(bufs))
	for _, b := range bufs {
		if len(b) > 0 {
			iovs = append(iovs, b)
		}
	}
	if len(iovs) == 0 {
		return 0, nil
	}
	return readWritev(fd, iovs, false)
}

// Writev performs a vectored write across up to len(bufs) buffers.
func Writev(fd int, bufs [][]byte) (int, error) {
	iovs := make([][]byte, 0, len(bufs))
	for _, b := range bufs {
		if len(b) > 0 {
			iovs = append(iovs, b)
		}
	}
	if len(iovs) == 0 {
		return 0, nil
	}
	return readWritev(fd, iovs, true)
}

func readWritev(fd int, bufs [][]byte, write bool) (int, error) {
	if len(bufs) == 1 {
		if write {
			return unix.Write(fd, bufs[0])
		}
		return unix.Read(fd, bufs[0])
	}
	// Build raw iovecs for readv/writev. unix doesn't expose a generic
	// Readv/Writev on all platforms by slice-of-slices, so assemble the
	// syscall.Iovec table directly.
	iovecs := make([]syscall.Iovec, len(bufs))
	for i, b := range bufs {
		iovecs[i] = syscall.Iovec{Base: &b[0]}
		iovecs[i].SetLen(len(b))
	}
	var n uintptr
	var errno syscall.Errno
	if write {
		n, _, errno = syscall.Syscall(syscall.SYS_WRITEV, uintptr(fd),
			uintptr(ptrTo(&iovecs[0])), uintptr(len(iovecs)))
	} else {
		n, _, errno = syscall.Syscall(syscall.SYS_READV, uintptr(fd),
			uintptr(ptrTo(&iovecs[0])), uintptr(len(iovecs)))
	}
	if errno != 0 {
		return int(n), errno
	}
	return int(n), nil
}

// SizeReadable returns how many bytes the kernel reports as
// immediately readable on fd (FIONREAD), used by the byte-buffer's
// read() to cap its readv request (spec §4.4 "Reading from an fd").
func SizeReadable(fd int) (int, error) {
	n, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	if err != nil {
		return 0, err
	}
	return n, nil
}
