package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteBufferAddBufferMovesSegmentsNotBytes(t *testing.T) {
	src := NewByteBuffer()
	require.NoError(t, src.Add([]byte("hello")))
	require.NoError(t, src.Add(make([]byte, 600)))
	srcHeadBefore := src.head

	dst := NewByteBuffer()
	require.NoError(t, dst.Add([]byte("pre ")))
	require.NoError(t, dst.AddBuffer(src))

	assert.Equal(t, 0, src.GetLength())
	assert.Nil(t, src.head)
	assert.Equal(t, 4+5+600, dst.GetLength())

	// The moved chain's head segment must be the very same *segment
	// that used to be src's head: AddBuffer relinks, it never copies.
	found := false
	for s := dst.head; s != nil; s = s.next {
		if s == srcHeadBefore {
			found = true
		}
	}
	assert.True(t, found, "expected src's original head segment to be spliced into dst, not copied")
}

func TestByteBufferPrependBufferMovesOntoHead(t *testing.T) {
	src := NewByteBuffer()
	require.NoError(t, src.Add([]byte("hello ")))

	dst := NewByteBuffer()
	require.NoError(t, dst.Add([]byte("world")))
	require.NoError(t, dst.PrependBuffer(src))

	assert.Equal(t, "hello world", string(dst.CopyOut(dst.GetLength())))
	assert.Equal(t, 0, src.GetLength())
}

// A pinned tail segment in src (simulating an in-flight direct write
// referencing its storage) cannot change ownership: AddBuffer must
// copy its live bytes into a freshly owned segment for dst and leave
// the original behind, drained, in src (spec §8 scenario 5).
func TestByteBufferAddBufferLeavesPinnedSegmentBehind(t *testing.T) {
	src := NewByteBuffer()
	require.NoError(t, src.Add([]byte("pinned")))
	pinned := src.tail
	pinned.flags |= segWritePinned
	pinned.pinCount++

	dst := NewByteBuffer()
	require.NoError(t, dst.AddBuffer(src))

	assert.Equal(t, "pinned", string(dst.CopyOut(dst.GetLength())))
	assert.Equal(t, 0, src.GetLength())

	// The original segment is still linked in src, drained rather than
	// unlinked, since something else may still be writing into it.
	require.NotNil(t, src.head)
	assert.Same(t, pinned, src.head)
	assert.Equal(t, 0, pinned.live)

	for s := dst.head; s != nil; s = s.next {
		assert.NotSame(t, pinned, s, "pinned segment must not be spliced into dst")
	}

	pinned.unpin()
}

func TestByteBufferRemoveBufferSplitsMidSegment(t *testing.T) {
	src := NewByteBuffer()
	require.NoError(t, src.Add([]byte("abcdefghij")))

	dst := NewByteBuffer()
	n, err := src.RemoveBuffer(dst, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, "abcd", string(dst.CopyOut(dst.GetLength())))
	assert.Equal(t, "efghij", string(src.CopyOut(src.GetLength())))
}

func TestByteBufferRemoveBufferWholeSegment(t *testing.T) {
	src := NewByteBuffer()
	require.NoError(t, src.Add([]byte("abc")))
	require.NoError(t, src.AddReference(make([]byte, 600), nil, nil))

	dst := NewByteBuffer()
	n, err := src.RemoveBuffer(dst, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(dst.CopyOut(3)))
	assert.Equal(t, 600, src.GetLength())
}

func TestByteBufferRemoveBufferCapsAtAvailable(t *testing.T) {
	src := NewByteBuffer()
	require.NoError(t, src.Add([]byte("abc")))

	dst := NewByteBuffer()
	n, err := src.RemoveBuffer(dst, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, src.GetLength())
}

func TestByteBufferAddBufferRespectsFreeze(t *testing.T) {
	src := NewByteBuffer()
	require.NoError(t, src.Add([]byte("x")))

	dst := NewByteBuffer()
	dst.Freeze(false) // tail frozen
	err := dst.AddBuffer(src)
	assert.Error(t, err)
	assert.Equal(t, 1, src.GetLength(), "src must be left untouched when dst rejects the move")
}
