package reactor

import (
	"fmt"

	"github.com/corenet-io/reactor/internal/fileio"
)

// Freeze bans mutation at one end of the buffer: head freezing bans
// drain/prepend/readln, tail freezing bans append/add_file/
// add_reference (spec §4.4 "Freeze"). The buffered-socket sets and
// clears these around in-flight I/O so user callbacks cannot corrupt
// a buffer mid-syscall.
func (b *ByteBuffer) Freeze(head bool) {
	b.Lock()
	defer b.Unlock()
	if head {
		b.freezeHead = true
	} else {
		b.freezeTail = true
	}
}

func (b *ByteBuffer) Unfreeze(head bool) {
	b.Lock()
	defer b.Unlock()
	if head {
		b.freezeHead = false
	} else {
		b.freezeTail = false
	}
}

// SetDrainsToFD marks this buffer as one whose owner prefers sendfile
// transmission for file-backed segments (spec §4.4's sendfile
// segments).
func (b *ByteBuffer) SetDrainsToFD(v bool) {
	b.Lock()
	defer b.Unlock()
	b.drainsToFD = v
}

// AddReference appends externally-owned memory without copying it;
// cleanup runs once the segment is finally released (spec §4.4
// "External memory").
func (b *ByteBuffer) AddReference(data []byte, cleanup func(), extra any) error {
	b.Lock()
	defer b.Unlock()
	if b.freezeTail {
		return newErr("buffer.addreference", -1, ErrCodeFreezeViolation, "tail is frozen", nil)
	}
	if len(data) == 0 {
		return nil
	}
	origSize := b.totalLen
	seg := newExternalSegment(data, cleanup, extra)
	b.appendSegmentStructural(seg)
	b.lastWithData = seg
	b.totalLen += len(data)
	b.nAddedSinceCB += len(data)
	b.invokeCallbacks(origSize)
	return nil
}

// AddFile appends a [offset, offset+length) span of fd as a
// sendfile-backed segment, never copying the file's bytes into user
// memory (spec §4.4 "add_file").
func (b *ByteBuffer) AddFile(fd int, offset int64, length int, cleanup func()) error {
	b.Lock()
	defer b.Unlock()
	if b.freezeTail {
		return newErr("buffer.addfile", fd, ErrCodeFreezeViolation, "tail is frozen", nil)
	}
	if length <= 0 {
		return nil
	}
	origSize := b.totalLen
	seg := newSendfileSegment(fd, offset, length, cleanup)
	b.appendSegmentStructural(seg)
	b.lastWithData = seg
	b.totalLen += length
	b.nAddedSinceCB += length
	b.invokeCallbacks(origSize)
	return nil
}

// AddMappedFile appends a read-only mmap'd view of [offset,
// offset+length) of fd, for callers that need to inspect the bytes in
// user memory rather than merely transmit them.
func (b *ByteBuffer) AddMappedFile(fd int, offset int64, length int) error {
	data, err := fileio.Mmap(fd, offset, length)
	if err != nil {
		return newErr("buffer.addmappedfile", fd, ErrCodeAllocation, "mmap failed", err)
	}
	b.Lock()
	defer b.Unlock()
	if b.freezeTail {
		fileio.Munmap(data)
		return newErr("buffer.addmappedfile", fd, ErrCodeFreezeViolation, "tail is frozen", nil)
	}
	origSize := b.totalLen
	seg := newMmapSegment(data, 0, length)
	b.appendSegmentStructural(seg)
	b.lastWithData = seg
	b.totalLen += length
	b.nAddedSinceCB += length
	b.invokeCallbacks(origSize)
	return nil
}

// AddPrintf formats into the tail of the buffer (spec §4.4
// "add_printf").
func (b *ByteBuffer) AddPrintf(format string, args ...any) error {
	return b.Add([]byte(fmt.Sprintf(format, args...)))
}

// Read fills the buffer with up to n bytes from fd in a single
// vectored read, sized against FIONREAD when available (spec §4.4
// "Reading from an fd").
func (b *ByteBuffer) Read(fd int, n int) (int, error) {
	if n <= 0 {
		n = defaultReadCeiling
	}
	if avail, err := fileio.SizeReadable(fd); err == nil && avail > 0 && avail < n {
		n = avail
	}

	b.Lock()
	defer b.Unlock()
	if b.freezeTail {
		return 0, newErr("buffer.read", fd, ErrCodeFreezeViolation, "tail is frozen", nil)
	}
	if err := b.expandFastLocked(n, maxReadvSegments); err != nil {
		return 0, err
	}

	bufs := make([][]byte, 0, maxReadvSegments)
	segs := make([]*segment, 0, maxReadvSegments)
	remaining := n
	start := b.lastWithData
	if start == nil {
		start = b.head
	}
	for s := start; s != nil && len(bufs) < maxReadvSegments && remaining > 0; s = s.next {
		if !s.writable() {
			continue
		}
		free := s.freeSpaceAfter()
		if free <= 0 {
			continue
		}
		if free > remaining {
			free = remaining
		}
		bufs = append(bufs, s.store[s.misalign+s.live:s.misalign+s.live+free])
		segs = append(segs, s)
		remaining -= free
	}
	if len(bufs) == 0 {
		return 0, nil
	}

	got, err := fileio.Readv(fd, bufs)
	if got <= 0 {
		return 0, err
	}

	origSize := b.totalLen
	left := got
	for i, s := range segs {
		take := len(bufs[i])
		if take > left {
			take = left
		}
		if take <= 0 {
			break
		}
		s.live += take
		b.lastWithData = s
		left -= take
	}
	b.totalLen += got
	b.nAddedSinceCB += got
	b.invokeCallbacks(origSize)
	return got, err
}

// WriteAtmost writes up to n bytes from the head of the buffer to fd,
// batching ordinary segments through a vectored write and handing
// sendfile-backed segments to sendfile(2) directly (spec §4.4
// "Writing to an fd"). Bytes actually written are drained.
func (b *ByteBuffer) WriteAtmost(fd int, n int) (int, error) {
	b.Lock()
	if b.freezeHead {
		b.Unlock()
		return 0, newErr("buffer.write", fd, ErrCodeFreezeViolation, "head is frozen", nil)
	}
	if n <= 0 || n > b.totalLen {
		n = b.totalLen
	}
	head := b.head
	b.Unlock()
	if n == 0 || head == nil {
		return 0, nil
	}

	total := 0
	remaining := n
	for remaining > 0 {
		b.Lock()
		s := b.head
		b.Unlock()
		if s == nil {
			break
		}

		if s.flags.has(segSendfile) {
			count := s.live
			if count > remaining {
				count = remaining
			}
			written, _, err := fileio.Sendfile(fd, s.fd, int64(s.misalign), count)
			if written > 0 {
				if derr := b.Drain(written); derr != nil {
					return total + written, derr
				}
				total += written
				remaining -= written
			}
			if err != nil {
				return total, err
			}
			if written == 0 {
				break
			}
			continue
		}

		b.Lock()
		bufs := make([][]byte, 0, maxWritevSegments)
		batch := remaining
		for seg := b.head; seg != nil && len(bufs) < maxWritevSegments && batch > 0 && !seg.flags.has(segSendfile); seg = seg.next {
			data := seg.dataSlice()
			if len(data) == 0 {
				continue
			}
			take := len(data)
			if take > batch {
				take = batch
			}
			bufs = append(bufs, data[:take])
			batch -= take
		}
		b.Unlock()
		if len(bufs) == 0 {
			break
		}
		written, err := fileio.Writev(fd, bufs)
		if written > 0 {
			if derr := b.Drain(written); derr != nil {
				return total + written, derr
			}
			total += written
			remaining -= written
		}
		if err != nil {
			return total, err
		}
		if written == 0 {
			break
		}
	}
	return total, nil
}

// Write drains the entire buffer to fd.
func (b *ByteBuffer) Write(fd int) (int, error) {
	return b.WriteAtmost(fd, b.GetLength())
}
