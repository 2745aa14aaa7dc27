package reactor

// appendSegmentStructural links seg onto the structural tail of the
// chain without touching lastWithData.
func (b *ByteBuffer) appendSegmentStructural(seg *segment) {
	if b.tail == nil {
		b.head = seg
	} else {
		b.tail.next = seg
	}
	b.tail = seg
}

// noteWritten marks seg as the new lastWithData after bytes were
// written into it. It does not touch the chain itself: any empty
// segments after seg (reserved by a prior Expand) stay linked as they
// are.
func (b *ByteBuffer) noteWritten(seg *segment) {
	b.lastWithData = seg
}

// Add appends N bytes from data (spec §4.4 "Appending N bytes").
func (b *ByteBuffer) Add(data []byte) error {
	b.Lock()
	defer b.Unlock()
	return b.addLocked(data)
}

func (b *ByteBuffer) addLocked(data []byte) error {
	if b.freezeTail {
		return newErr("buffer.add", -1, ErrCodeFreezeViolation, "tail is frozen", nil)
	}
	n := len(data)
	if n == 0 {
		return nil
	}
	if b.totalLen+n < b.totalLen {
		return newErr("buffer.add", -1, ErrCodeAllocation, "length overflow", nil)
	}
	origSize := b.totalLen

	tail := b.lastWithData
	switch {
	case tail == nil:
		seg := newOwnedSegment(sizeForRequest(n))
		copy(seg.store, data)
		seg.live = n
		b.appendSegmentStructural(seg)
		b.noteWritten(seg)

	case tail.writable() && tail.freeSpaceAfter() >= n:
		copy(tail.store[tail.misalign+tail.live:], data)
		tail.live += n
		b.noteWritten(tail)

	case tail.writable() && tail.cap-tail.live >= n && tail.live < tail.cap/2 && tail.live <= realignThreshold:
		// realign: memmove live bytes to offset 0, reclaiming the space
		// wasted by misalignment and fragmentation before the tail, then
		// append. Only worth it if the data will actually fit afterward.
		copy(tail.store[0:], tail.dataSlice())
		tail.misalign = 0
		copy(tail.store[tail.live:], data)
		tail.live += n
		b.noteWritten(tail)

	default:
		var fill int
		if tail.writable() {
			fill = tail.freeSpaceAfter()
			if fill > n {
				fill = n
			}
			copy(tail.store[tail.misalign+tail.live:], data[:fill])
			tail.live += fill
			b.noteWritten(tail)
		}
		remaining := data[fill:]
		if len(remaining) > 0 {
			want := len(remaining)
			if tail.writable() {
				doubled := tail.cap * 2
				if doubled < autoSizeThreshold && doubled > want {
					want = doubled
				}
			}
			newSeg := newOwnedSegment(sizeForRequest(want))
			copy(newSeg.store, remaining)
			newSeg.live = len(remaining)
			b.appendSegmentStructural(newSeg)
			b.noteWritten(newSeg)
		}
	}

	b.totalLen += n
	b.nAddedSinceCB += n
	b.invokeCallbacks(origSize)
	return nil
}

// Prepend inserts N bytes before the current head (spec §4.4
// "Prepending N bytes").
//
// Per spec §9's open question, the added-bytes count reported to
// callbacks is exactly len(data): the original C source accidentally
// counts the new head segment's *old* misalignment in this case, which
// spec §9 flags as a bug. This implementation does not reproduce it.
func (b *ByteBuffer) Prepend(data []byte) error {
	b.Lock()
	defer b.Unlock()
	if b.freezeHead {
		return newErr("buffer.prepend", -1, ErrCodeFreezeViolation, "head is frozen", nil)
	}
	n := len(data)
	if n == 0 {
		return nil
	}
	origSize := b.totalLen

	head := b.head
	// An empty head segment is "end-aligned" for prepend purposes: its
	// whole capacity counts as available misalignment space.
	if head != nil && head.live == 0 {
		head.misalign = head.cap
	}

	if head != nil && head.misalign >= n {
		head.misalign -= n
		copy(head.store[head.misalign:head.misalign+n], data)
		head.live += n
		if b.lastWithData == nil {
			b.lastWithData = head
		}
	} else {
		consumed := 0
		if head != nil && head.misalign > 0 {
			consumed = head.misalign
			copy(head.store[0:consumed], data[n-consumed:])
			head.misalign = 0
			head.live += consumed
		}
		remaining := data[:n-consumed]
		newCap := sizeForRequest(len(remaining))
		newHead := newOwnedSegment(newCap)
		newHead.misalign = newCap - len(remaining)
		copy(newHead.store[newHead.misalign:], remaining)
		newHead.live = len(remaining)
		newHead.next = head
		b.head = newHead
		if b.tail == nil {
			b.tail = newHead
		}
		if b.lastWithData == nil {
			b.lastWithData = newHead
		}
	}

	b.totalLen += n
	b.nAddedSinceCB += n
	b.invokeCallbacks(origSize)
	return nil
}

// Expand implements expand_singlechain: ensures at least n bytes are
// available for append without allocating more than necessary,
// following the four-way decision tree of spec §4.4 "Expansion".
func (b *ByteBuffer) Expand(n int) error {
	b.Lock()
	defer b.Unlock()
	if b.freezeTail {
		return newErr("buffer.expand", -1, ErrCodeFreezeViolation, "tail is frozen", nil)
	}
	tail := b.lastWithData
	switch {
	case tail != nil && tail.writable() && tail.freeSpaceAfter() >= n:
		return nil
	case tail != nil && tail.writable() && tail.misalign+tail.freeSpaceAfter() >= n && tail.live < tail.cap/2 && tail.live <= realignThreshold:
		copy(tail.store[0:], tail.dataSlice())
		tail.misalign = 0
		return nil
	case tail != nil && tail.writable() && tail.live <= realignThreshold:
		newSeg := newOwnedSegment(sizeForRequest(tail.live + n))
		copy(newSeg.store, tail.dataSlice())
		newSeg.live = tail.live
		b.replaceTailWith(newSeg)
		return nil
	default:
		newSeg := newOwnedSegment(sizeForRequest(n))
		b.appendSegmentStructural(newSeg)
		return nil
	}
}

// replaceTailWith swaps out the current lastWithData segment for a
// freshly migrated one (used by Expand's "migrate small-live-bytes"
// branch), preserving any already-linked structural successors.
func (b *ByteBuffer) replaceTailWith(newSeg *segment) {
	old := b.lastWithData
	newSeg.next = old.next
	if b.head == old {
		b.head = newSeg
	} else {
		p := b.head
		for p != nil && p.next != old {
			p = p.next
		}
		if p != nil {
			p.next = newSeg
		}
	}
	if b.tail == old {
		b.tail = newSeg
	}
	b.lastWithData = newSeg
	old.free()
}

// ExpandFast guarantees n bytes free across at most k segments,
// extending via one new segment if the spare capacity across the
// existing tail run is insufficient (spec §4.4 "expand_fast").
func (b *ByteBuffer) ExpandFast(n, k int) error {
	b.Lock()
	defer b.Unlock()
	return b.expandFastLocked(n, k)
}

func (b *ByteBuffer) expandFastLocked(n, k int) error {
	spare := 0
	count := 0
	for s := b.lastWithData; s != nil && count < k; s = s.next {
		if s.writable() {
			spare += s.freeSpaceAfter()
		}
		count++
	}
	if spare >= n {
		return nil
	}
	newSeg := newOwnedSegment(sizeForRequest(n - spare))
	b.appendSegmentStructural(newSeg)
	return nil
}
