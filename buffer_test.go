package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteBufferAddDrainRoundTrip(t *testing.T) {
	b := NewByteBuffer()
	require.NoError(t, b.Add([]byte("hello ")))
	require.NoError(t, b.Add([]byte("world")))
	assert.Equal(t, 11, b.GetLength())
	assert.Equal(t, []byte("hello world"), b.CopyOut(11))

	out := make([]byte, 5)
	n, err := b.Remove(out)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(out))
	assert.Equal(t, 6, b.GetLength())
	assert.Equal(t, " world", string(b.CopyOut(6)))
}

func TestByteBufferAddSpansManySegments(t *testing.T) {
	b := NewByteBuffer()
	chunk := make([]byte, 600) // forces a fresh segment past the 512B floor
	for i := range chunk {
		chunk[i] = byte(i)
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, b.Add(chunk))
	}
	assert.Equal(t, 600*20, b.GetLength())
	out := b.CopyOut(b.GetLength())
	assert.Equal(t, chunk, out[:600])
	assert.Equal(t, chunk, out[600*19:])
}

func TestByteBufferPrependBeforeHead(t *testing.T) {
	b := NewByteBuffer()
	require.NoError(t, b.Add([]byte("world")))
	require.NoError(t, b.Prepend([]byte("hello ")))
	assert.Equal(t, "hello world", string(b.CopyOut(b.GetLength())))
}

func TestByteBufferDrainFreesExhaustedSegments(t *testing.T) {
	b := NewByteBuffer()
	require.NoError(t, b.Add([]byte("abc")))
	require.NoError(t, b.Add(make([]byte, 600)))
	require.NoError(t, b.Drain(3))
	assert.Equal(t, 600, b.GetLength())
	require.NoError(t, b.Drain(600))
	assert.Equal(t, 0, b.GetLength())
	assert.Nil(t, b.head)
	assert.Nil(t, b.tail)
	assert.Nil(t, b.lastWithData)
}

func TestByteBufferPullUpLinearizes(t *testing.T) {
	b := NewByteBuffer()
	require.NoError(t, b.Add([]byte("ab")))
	require.NoError(t, b.Add(make([]byte, 600)))
	require.NoError(t, b.Add([]byte("cd")))
	linear := b.PullUp(4)
	assert.Equal(t, "ab", string(linear[:2]))
}

func TestByteBufferSearch(t *testing.T) {
	b := NewByteBuffer()
	require.NoError(t, b.Add([]byte("the quick brown fox")))
	pos, ok := b.Search([]byte("brown"), 0)
	require.True(t, ok)
	assert.Equal(t, 10, pos)

	_, ok = b.Search([]byte("missing"), 0)
	assert.False(t, ok)
}

func TestByteBufferSearchEOLStyles(t *testing.T) {
	cases := []struct {
		name    string
		data    string
		style   EOLStyle
		wantPos int
		wantLen int
	}{
		{"lf", "line1\nline2", EOLLF, 5, 1},
		{"crlf-optional-bare-cr", "line1\rline2", EOLCRLFOptional, 5, 1},
		{"crlf-optional-pair", "line1\r\nline2", EOLCRLFOptional, 5, 2},
		{"nul", "line1\x00line2", EOLNUL, 5, 1},
		{"any", "line1\rline2", EOLAny, 5, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewByteBuffer()
			require.NoError(t, b.Add([]byte(tc.data)))
			pos, termLen, found := b.SearchEOL(tc.style, 0)
			require.True(t, found)
			assert.Equal(t, tc.wantPos, pos)
			assert.Equal(t, tc.wantLen, termLen)
		})
	}
}

// A lone \n inside an otherwise CRLF-delimited stream must not count as
// a terminator under EOLCRLFStrict (spec §8 scenario 6).
func TestByteBufferSearchEOLCRLFStrictSkipsBareLF(t *testing.T) {
	b := NewByteBuffer()
	require.NoError(t, b.Add([]byte("one\ntwo\r\nthree")))
	pos, termLen, found := b.SearchEOL(EOLCRLFStrict, 0)
	require.True(t, found)
	assert.Equal(t, 7, pos)
	assert.Equal(t, 2, termLen)
}

func TestByteBufferReadLn(t *testing.T) {
	b := NewByteBuffer()
	require.NoError(t, b.Add([]byte("first\r\nsecond\r\n")))
	line, ok := b.ReadLn(EOLCRLFStrict)
	require.True(t, ok)
	assert.Equal(t, "first", line)
	line, ok = b.ReadLn(EOLCRLFStrict)
	require.True(t, ok)
	assert.Equal(t, "second", line)
	_, ok = b.ReadLn(EOLCRLFStrict)
	assert.False(t, ok)
}

// PtrSet(b, &p, k, PtrSetAbs) followed by PtrSet(b, &p, 0, PtrAddRel)
// must yield p.Pos == k (spec §8's round-trip law).
func TestByteBufferPtrSetRoundTrip(t *testing.T) {
	b := NewByteBuffer()
	require.NoError(t, b.Add(make([]byte, 2000))) // fits in one 2048-byte segment

	var p BufferPtr
	require.NoError(t, b.PtrSet(&p, 1234, PtrSetAbs))
	assert.Equal(t, 1234, p.Pos)

	require.NoError(t, b.PtrSet(&p, 0, PtrAddRel))
	assert.Equal(t, 1234, p.Pos)

	require.NoError(t, b.PtrSet(&p, 10, PtrAddRel))
	assert.Equal(t, 1244, p.Pos)
}

func TestByteBufferPtrSetOutOfRange(t *testing.T) {
	b := NewByteBuffer()
	require.NoError(t, b.Add([]byte("abc")))

	var p BufferPtr
	err := b.PtrSet(&p, 99, PtrSetAbs)
	require.Error(t, err)
	assert.Equal(t, -1, p.Pos)
}

func TestByteBufferFreezeViolations(t *testing.T) {
	b := NewByteBuffer()
	b.Freeze(false) // tail
	assert.Error(t, b.Add([]byte("x")))
	b.Unfreeze(false)
	require.NoError(t, b.Add([]byte("x")))

	b.Freeze(true) // head
	assert.Error(t, b.Drain(1))
	assert.Error(t, b.Prepend([]byte("y")))
	b.Unfreeze(true)
	require.NoError(t, b.Drain(1))
}

func TestByteBufferCallbackReportsAddedAndRemoved(t *testing.T) {
	b := NewByteBuffer()
	var lastInfo CBInfo
	b.AddCB(func(_ *ByteBuffer, info CBInfo, _ any) {
		lastInfo = info
	}, nil)

	require.NoError(t, b.Add([]byte("abcde")))
	assert.Equal(t, 0, lastInfo.OrigSize)
	assert.Equal(t, 5, lastInfo.NAdded)
	assert.Equal(t, 0, lastInfo.NDeleted)

	require.NoError(t, b.Drain(2))
	assert.Equal(t, 5, lastInfo.OrigSize)
	assert.Equal(t, 2, lastInfo.NDeleted)
}
