package reactor

import "unsafe"

// lockPair locks two buffers in a fixed address order so that two
// concurrent cross-buffer moves can never deadlock on each other.
func lockPair(a, b *ByteBuffer) {
	if a == b {
		a.Lock()
		return
	}
	if uintptr(unsafe.Pointer(a)) < uintptr(unsafe.Pointer(b)) {
		a.Lock()
		b.Lock()
	} else {
		b.Lock()
		a.Lock()
	}
}

func unlockPair(a, b *ByteBuffer) {
	if a == b {
		a.Unlock()
		return
	}
	a.Unlock()
	b.Unlock()
}

// appendSegToDst links seg onto dst's structural tail, updating
// lastWithData since seg always carries live data here.
func appendSegToDst(dst *ByteBuffer, seg *segment) {
	if dst.tail == nil {
		dst.head = seg
	} else {
		dst.tail.next = seg
	}
	dst.tail = seg
	dst.lastWithData = seg
}

// lastLiveSegment returns the last segment in the chain starting at
// head with live > 0, or nil if none remain.
func lastLiveSegment(head *segment) *segment {
	var last *segment
	for s := head; s != nil; s = s.next {
		if s.live > 0 {
			last = s
		}
	}
	return last
}

// spliceMovable walks src's chain, detaching segments into a fresh
// chain suitable for splicing into another buffer. A pinned segment
// (read- or write-pinned, simulating an in-flight direct I/O into its
// storage) cannot change ownership: its live bytes are copied into a
// freshly-owned segment for the moved chain, and the original is left
// behind in src, drained in place. src is mutated to reflect whatever
// stayed behind; the returned chain's head/tail/byte-count are ready
// to link into a destination buffer (spec §8 scenario 5).
func spliceMovable(src *ByteBuffer) (chainHead, chainTail *segment, total int) {
	var prev *segment
	s := src.head
	for s != nil {
		next := s.next
		if s.pinCount > 0 {
			if s.live > 0 {
				cp := newOwnedSegment(sizeForRequest(s.live))
				copy(cp.store, s.dataSlice())
				cp.live = s.live
				if chainHead == nil {
					chainHead = cp
				} else {
					chainTail.next = cp
				}
				chainTail = cp
				total += cp.live
				s.misalign += s.live
				s.live = 0
			}
			prev = s
			s = next
			continue
		}
		if prev == nil {
			src.head = next
		} else {
			prev.next = next
		}
		s.next = nil
		if chainHead == nil {
			chainHead = s
		} else {
			chainTail.next = s
		}
		chainTail = s
		total += s.live
		s = next
	}
	src.tail = prev
	if src.head == nil {
		src.tail = nil
	}
	src.lastWithData = lastLiveSegment(src.head)
	return chainHead, chainTail, total
}

// AddBuffer moves the contents of src onto the tail of b without
// copying segment storage, except for any pinned tail segment
// currently referenced by an in-flight I/O, which is copied instead
// and left behind, drained, in src (spec §4.4 "add_buffer").
func (b *ByteBuffer) AddBuffer(src *ByteBuffer) error {
	lockPair(b, src)
	defer unlockPair(b, src)

	if b.freezeTail {
		return newErr("buffer.addbuffer", -1, ErrCodeFreezeViolation, "tail is frozen", nil)
	}
	if src.freezeHead {
		return newErr("buffer.addbuffer", -1, ErrCodeFreezeViolation, "source head is frozen", nil)
	}
	if src.head == nil {
		return nil
	}

	origB := b.totalLen
	srcOrig := src.totalLen
	chainHead, chainTail, n := spliceMovable(src)
	if chainHead == nil {
		return nil
	}
	if b.tail == nil {
		b.head = chainHead
	} else {
		b.tail.next = chainHead
	}
	b.tail = chainTail
	b.lastWithData = lastLiveSegment(chainHead)
	if b.lastWithData == nil {
		b.lastWithData = priorLastWithData(b, chainHead)
	}
	b.totalLen += n
	b.nAddedSinceCB += n

	src.totalLen -= n
	src.nRemovedSinceCB += n

	b.invokeCallbacks(origB)
	src.invokeCallbacks(srcOrig)
	return nil
}

// priorLastWithData recovers b's pre-splice lastWithData segment when
// the moved chain carried no live bytes of its own (a corner case
// where every moved segment was freshly-empty).
func priorLastWithData(b *ByteBuffer, newChainHead *segment) *segment {
	var last *segment
	for s := b.head; s != nil && s != newChainHead; s = s.next {
		if s.live > 0 {
			last = s
		}
	}
	return last
}

// PrependBuffer moves the contents of src onto the head of b,
// applying the same pinned-segment copy-and-leave-behind rule as
// AddBuffer.
func (b *ByteBuffer) PrependBuffer(src *ByteBuffer) error {
	lockPair(b, src)
	defer unlockPair(b, src)

	if b.freezeHead {
		return newErr("buffer.prependbuffer", -1, ErrCodeFreezeViolation, "head is frozen", nil)
	}
	if src.freezeTail {
		return newErr("buffer.prependbuffer", -1, ErrCodeFreezeViolation, "source tail is frozen", nil)
	}
	if src.head == nil {
		return nil
	}

	origB := b.totalLen
	srcOrig := src.totalLen
	chainHead, chainTail, n := spliceMovable(src)
	if chainHead == nil {
		return nil
	}
	chainTail.next = b.head
	b.head = chainHead
	if b.tail == nil {
		b.tail = chainTail
	}
	if b.lastWithData == nil {
		b.lastWithData = lastLiveSegment(chainHead)
	}
	b.totalLen += n
	b.nAddedSinceCB += n

	src.totalLen -= n
	src.nRemovedSinceCB += n

	b.invokeCallbacks(origB)
	src.invokeCallbacks(srcOrig)
	return nil
}

// RemoveBuffer moves up to n bytes from the head of b onto the tail
// of dst, splitting the boundary segment rather than copying its
// bytes when n falls mid-segment (spec §4.4 "remove_buffer"). The
// split halves share the same backing store; a pin count on the
// shared segment keeps Go's GC from being asked to do anything
// special but mirrors the source library's dangling-segment
// bookkeeping for anyone inspecting segment state mid-flight.
func (b *ByteBuffer) RemoveBuffer(dst *ByteBuffer, n int) (int, error) {
	lockPair(b, dst)
	defer unlockPair(b, dst)

	if b.freezeHead {
		return 0, newErr("buffer.removebuffer", -1, ErrCodeFreezeViolation, "head is frozen", nil)
	}
	if dst.freezeTail {
		return 0, newErr("buffer.removebuffer", -1, ErrCodeFreezeViolation, "dest tail is frozen", nil)
	}
	if n > b.totalLen {
		n = b.totalLen
	}
	if n <= 0 {
		return 0, nil
	}

	origB := b.totalLen
	origDst := dst.totalLen
	moved := 0
	for moved < n && b.head != nil {
		s := b.head
		remain := n - moved
		if s.live <= remain {
			next := s.next
			b.head = next
			if b.lastWithData == s {
				b.lastWithData = nil
			}
			if b.tail == s {
				b.tail = nil
			}
			s.next = nil
			moved += s.live
			appendSegToDst(dst, s)
		} else {
			shared := s
			dstPart := &segment{
				cap:      shared.cap,
				misalign: shared.misalign,
				live:     remain,
				flags:    shared.flags | segExternal,
				store:    shared.store,
			}
			shared.pinCount++
			dstPart.cleanup = func() { shared.unpin() }
			shared.misalign += remain
			shared.live -= remain
			moved += remain
			appendSegToDst(dst, dstPart)
		}
	}
	b.totalLen -= moved
	b.nRemovedSinceCB += moved
	dst.totalLen += moved
	dst.nAddedSinceCB += moved

	b.invokeCallbacks(origB)
	dst.invokeCallbacks(origDst)
	return moved, nil
}
