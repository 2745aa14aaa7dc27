package reactor

// EOLStyle selects how Buffer.SearchEOL / Buffer.ReadLn recognize a
// line terminator (spec §4.4 "Line extraction").
type EOLStyle int

const (
	EOLAny        EOLStyle = iota // a lone \r or \n
	EOLCRLFOptional                // \r\n preferred, bare \r or \n also accepted
	EOLCRLFStrict                  // only an exact \r\n sequence counts
	EOLLF                          // \n only
	EOLNUL                         // a single NUL byte
)

// PtrMode selects how PtrSet interprets its pos argument (spec §4.4
// "Pointer arithmetic").
type PtrMode int

const (
	PtrSetAbs PtrMode = iota // pos is absolute, measured from the head
	PtrAddRel                // pos is relative to the pointer's current position
)

// BufferPtr is an opaque cursor into a buffer: an absolute byte
// offset plus the owning segment and in-segment offset. PtrSet does
// not use the cached segment to shorten its walk; every call locates
// the target by scanning the chain from the head. Any
// buffer mutation invalidates every outstanding BufferPtr (spec §3
// "Byte-Buffer pointer"); this implementation does not detect that
// automatically, so callers must re-PtrSet after mutating.
type BufferPtr struct {
	Pos        int // -1 marks an invalid cursor
	seg        *segment
	posInChain int
}

// locateLocked finds the segment and in-segment offset holding
// absolute offset target, including the one-past-the-end position in
// the last live segment (or the zero value for an empty buffer).
func (b *ByteBuffer) locateLocked(target int) (*segment, int, bool) {
	if target < 0 || target > b.totalLen {
		return nil, 0, false
	}
	cur := 0
	for s := b.head; s != nil; s = s.next {
		if s.live == 0 {
			continue
		}
		if target <= cur+s.live {
			return s, target - cur, true
		}
		cur += s.live
	}
	return nil, 0, true
}

// PtrSet repositions p either to an absolute offset (PtrSetAbs) or by
// a relative amount from its current position (PtrAddRel), walking
// the segment chain to keep p.seg/p.posInChain consistent (spec §4.4
// "ptr_set"). An out-of-range result yields the distinguished invalid
// cursor (Pos == -1) and ErrInvalidCursor, per spec §8's round-trip
// law: PtrSet(b, &p, k, PtrSetAbs) followed by PtrSet(b, &p, 0,
// PtrAddRel) must yield p.Pos == k.
func (b *ByteBuffer) PtrSet(p *BufferPtr, pos int, mode PtrMode) error {
	b.Lock()
	defer b.Unlock()

	target := pos
	if mode == PtrAddRel {
		target = p.Pos + pos
	}
	seg, inSeg, ok := b.locateLocked(target)
	if !ok {
		*p = BufferPtr{Pos: -1}
		return ErrInvalidCursor
	}
	p.Pos, p.seg, p.posInChain = target, seg, inSeg
	return nil
}

// byteAt returns the byte at logical offset pos. Caller must already
// hold the buffer's lock.
func (b *ByteBuffer) byteAt(pos int) (byte, bool) {
	cur := 0
	for s := b.head; s != nil; s = s.next {
		if pos < cur+s.live {
			return s.dataSlice()[pos-cur], true
		}
		cur += s.live
	}
	return 0, false
}

// Search locates the first occurrence of what at or after start,
// returning its logical byte offset (spec §4.4 "search"). This
// implementation walks a logical byte-offset space rather than
// reproducing the source's raw pointer/pos_in_chain bookkeeping,
// which has no equivalent once segment storage is plain Go slices.
func (b *ByteBuffer) Search(what []byte, start int) (int, bool) {
	b.Lock()
	defer b.Unlock()
	return b.searchLocked(what, start, b.totalLen)
}

// SearchRange is Search confined to the logical range [start, end).
func (b *ByteBuffer) SearchRange(what []byte, start, end int) (int, bool) {
	b.Lock()
	defer b.Unlock()
	return b.searchLocked(what, start, end)
}

func (b *ByteBuffer) searchLocked(what []byte, start, end int) (int, bool) {
	if len(what) == 0 {
		return start, true
	}
	if end > b.totalLen {
		end = b.totalLen
	}
	if start < 0 {
		start = 0
	}
	for p := start; p+len(what) <= end; p++ {
		match := true
		for i, w := range what {
			c, ok := b.byteAt(p + i)
			if !ok || c != w {
				match = false
				break
			}
		}
		if match {
			return p, true
		}
	}
	return -1, false
}

// SearchEOL finds the next line terminator at or after start under
// style, returning its offset and byte length (spec §4.4 "Line
// extraction").
func (b *ByteBuffer) SearchEOL(style EOLStyle, start int) (pos, termLen int, found bool) {
	b.Lock()
	defer b.Unlock()
	return b.searchEOLLocked(style, start)
}

func (b *ByteBuffer) searchEOLLocked(style EOLStyle, start int) (int, int, bool) {
	switch style {
	case EOLCRLFStrict:
		p, ok := b.searchLocked([]byte("\r\n"), start, b.totalLen)
		if !ok {
			return -1, 0, false
		}
		return p, 2, true

	case EOLLF:
		for p := start; p < b.totalLen; p++ {
			c, _ := b.byteAt(p)
			if c == '\n' {
				return p, 1, true
			}
		}
		return -1, 0, false

	case EOLNUL:
		for p := start; p < b.totalLen; p++ {
			c, _ := b.byteAt(p)
			if c == 0 {
				return p, 1, true
			}
		}
		return -1, 0, false

	case EOLCRLFOptional:
		for p := start; p < b.totalLen; p++ {
			c, _ := b.byteAt(p)
			if c == '\r' {
				if nc, ok := b.byteAt(p + 1); ok && nc == '\n' {
					return p, 2, true
				}
				return p, 1, true
			}
			if c == '\n' {
				return p, 1, true
			}
		}
		return -1, 0, false

	default: // EOLAny
		for p := start; p < b.totalLen; p++ {
			c, _ := b.byteAt(p)
			if c == '\r' || c == '\n' {
				return p, 1, true
			}
		}
		return -1, 0, false
	}
}

// ReadLn extracts and drains the next line (terminator excluded) under
// style, reporting false if no terminator is present yet (spec §4.4
// "readln").
func (b *ByteBuffer) ReadLn(style EOLStyle) (string, bool) {
	b.Lock()
	if b.freezeHead {
		b.Unlock()
		return "", false
	}
	pos, termLen, found := b.searchEOLLocked(style, 0)
	if !found {
		b.Unlock()
		return "", false
	}
	line := make([]byte, pos)
	copied := 0
	for s := b.head; s != nil && copied < pos; s = s.next {
		want := pos - copied
		avail := s.live
		if want < avail {
			avail = want
		}
		copy(line[copied:], s.dataSlice()[:avail])
		copied += avail
	}
	b.Unlock()

	if err := b.Drain(pos + termLen); err != nil {
		return "", false
	}
	return string(line), true
}
