package reactor

// Drain removes n bytes from the front of the buffer, freeing any
// segment left fully exhausted (spec §4.4 "Draining").
func (b *ByteBuffer) Drain(n int) error {
	b.Lock()
	defer b.Unlock()
	return b.drainLocked(n)
}

func (b *ByteBuffer) drainLocked(n int) error {
	if b.freezeHead {
		return newErr("buffer.drain", -1, ErrCodeFreezeViolation, "head is frozen", nil)
	}
	if n > b.totalLen {
		n = b.totalLen
	}
	if n <= 0 {
		return nil
	}
	origSize := b.totalLen
	remaining := n
	// headReachable tracks whether b.head may still be advanced past
	// an exhausted segment. It goes false the moment we leave a
	// read-pinned segment behind: per spec, a pinned head segment
	// stays linked in place (live drops to 0, but it is not unlinked
	// or freed) since whatever pinned it still expects to find it by
	// walking from the buffer's head.
	headReachable := true
	var prev *segment
	cur := b.head
	for remaining > 0 && cur != nil {
		take := cur.live
		if take > remaining {
			take = remaining
		}
		cur.misalign += take
		cur.live -= take
		remaining -= take
		next := cur.next

		if cur.live != 0 {
			prev = cur
			cur = next
			continue
		}
		if b.lastWithData == cur {
			b.lastWithData = nil
		}
		if cur.flags.has(segReadPinned) {
			headReachable = false
			prev = cur
			cur = next
			continue
		}
		if headReachable {
			b.head = next
		} else if prev != nil {
			prev.next = next
		}
		if b.tail == cur {
			b.tail = prev
		}
		cur.free()
		cur = next
	}
	b.totalLen -= n
	b.nRemovedSinceCB += n
	b.invokeCallbacks(origSize)
	return nil
}

// CopyOut copies up to n bytes from the front of the buffer into a new
// slice without removing them (spec §4.4 "copyout").
func (b *ByteBuffer) CopyOut(n int) []byte {
	b.Lock()
	defer b.Unlock()
	if n > b.totalLen {
		n = b.totalLen
	}
	out := make([]byte, n)
	copied := 0
	for s := b.head; s != nil && copied < n; s = s.next {
		want := n - copied
		avail := s.live
		if want < avail {
			avail = want
		}
		copy(out[copied:], s.dataSlice()[:avail])
		copied += avail
	}
	return out
}

// Remove copies len(dst) bytes out and drains them, mirroring
// evbuffer_remove's copy-and-consume semantics. Returns the number of
// bytes actually removed, which may be less than len(dst) if the
// buffer holds fewer.
func (b *ByteBuffer) Remove(dst []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	n := len(dst)
	if n > b.totalLen {
		n = b.totalLen
	}
	copied := 0
	for s := b.head; s != nil && copied < n; s = s.next {
		want := n - copied
		avail := s.live
		if want < avail {
			avail = want
		}
		copy(dst[copied:], s.dataSlice()[:avail])
		copied += avail
	}
	if err := b.drainLocked(n); err != nil {
		return 0, err
	}
	return n, nil
}

// PullUp linearizes the first n bytes of the buffer into a single
// segment and returns a slice referencing it directly (spec §4.4
// "pullup"). If n exceeds the buffer's length the whole buffer is
// linearized. The returned slice aliases buffer storage and is only
// valid until the next mutation.
func (b *ByteBuffer) PullUp(n int) []byte {
	b.Lock()
	defer b.Unlock()
	if n <= 0 || b.head == nil {
		return nil
	}
	if n > b.totalLen {
		n = b.totalLen
	}
	if b.head.live >= n {
		return b.head.dataSlice()[:n]
	}
	merged := newOwnedSegment(sizeForRequest(n))
	copied := 0
	s := b.head
	for s != nil && copied < n {
		take := s.live
		if take > n-copied {
			take = n - copied
		}
		copy(merged.store[copied:], s.dataSlice()[:take])
		copied += take
		next := s.next
		if take == s.live {
			s.free()
			s = next
		} else {
			s.misalign += take
			s.live -= take
			break
		}
	}
	merged.live = copied
	merged.next = s
	b.head = merged
	if s == nil {
		b.tail = merged
		b.lastWithData = merged
	}
	return merged.dataSlice()[:n]
}
