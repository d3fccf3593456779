package fbb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveConsumeRoundTrip(t *testing.T) {
	b := New()
	p, err := b.Reserve(16)
	require.NoError(t, err)
	require.Len(t, p, 16)
	for i := range p {
		p[i] = byte(i)
	}
	assert.Equal(t, 16, b.Len())

	require.NoError(t, b.ConsumeHead(16))
	assert.Equal(t, 0, b.Len())
	// opportunistic reset: offset and size both collapse to zero
	assert.Equal(t, 0, b.off)
	assert.Equal(t, 0, b.size)
}

func TestInvariantsHoldAcrossReserveConsume(t *testing.T) {
	b := New()
	b.SetWindowHint(0)
	for i := 0; i < 200; i++ {
		n := (i%13 + 1) * 7
		_, err := b.Reserve(n)
		require.NoError(t, err)
		assert.LessOrEqual(t, b.off, b.size)
		assert.LessOrEqual(t, b.size, cap(b.buf))
		assert.LessOrEqual(t, cap(b.buf), b.MaxCapacity())
		if i%3 == 0 && b.Len() > 0 {
			require.NoError(t, b.ConsumeHead(b.Len() / 2))
		}
		assert.LessOrEqual(t, b.off, b.size)
	}
}

func TestReadOnlyViewRejectsMutation(t *testing.T) {
	src := []byte("hello, world")
	v, err := NewView(src)
	require.NoError(t, err)
	assert.True(t, v.IsReadOnly())
	assert.Equal(t, src, v.Bytes())

	_, err = v.Reserve(1)
	assert.ErrorIs(t, err, ErrReadOnly)

	err = v.Reset()
	assert.ErrorIs(t, err, ErrReadOnly)

	err = v.SetMaxCapacity(4096)
	assert.ErrorIs(t, err, ErrReadOnly)

	// untouched
	assert.Equal(t, []byte("hello, world"), src)
}

func TestSharedBufferIsTreatedReadOnly(t *testing.T) {
	parent := New()
	_, err := parent.Reserve(64)
	require.NoError(t, err)

	child := New()
	require.NoError(t, AttachParent(child, parent, 0, 32))
	assert.True(t, child.IsReadOnly())

	_, err = parent.Reserve(1)
	assert.ErrorIs(t, err, ErrShared)

	child.Release()
	// back to unshared, parent mutable again
	_, err = parent.Reserve(1)
	assert.NoError(t, err)
}

func TestParentReleaseBeforeChildDefersFree(t *testing.T) {
	parent := New()
	p, err := parent.Reserve(64)
	require.NoError(t, err)
	copy(p, []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"))

	child := New()
	require.NoError(t, AttachParent(child, parent, 0, 32))

	want := append([]byte(nil), child.Bytes()...)

	// Releasing the parent first must not corrupt or free the bytes
	// the still-live child aliases.
	parent.Release()
	assert.Equal(t, want, child.Bytes())

	// Further use of the released parent handle itself still panics.
	assert.Panics(t, func() { parent.Bytes() })

	// Only once the last child releases does the backing array
	// actually get zeroed.
	child.Release()
}

func TestConsumeMoreThanAvailableFails(t *testing.T) {
	b := New()
	_, err := b.Reserve(4)
	require.NoError(t, err)
	err = b.ConsumeHead(5)
	assert.ErrorIs(t, err, ErrShortBuffer)
	err = b.ConsumeTail(5)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestGrowthWithWindowHintLimitsReallocations(t *testing.T) {
	b := New()
	b.SetWindowHint(512 * 1024)

	var reallocs int
	lastCap := b.Cap()
	const chunk = 4096
	const total = 1_000_000
	for written := 0; written < total; written += chunk {
		n := chunk
		if total-written < chunk {
			n = total - written
		}
		_, err := b.Reserve(n)
		require.NoError(t, err)
		if b.Cap() != lastCap {
			reallocs++
			lastCap = b.Cap()
		}
	}
	assert.Less(t, reallocs, 20)
}

func TestSetMaxCapacityBelowLiveSizeFails(t *testing.T) {
	b := New()
	_, err := b.Reserve(100)
	require.NoError(t, err)
	err = b.SetMaxCapacity(10)
	assert.ErrorIs(t, err, ErrBelowLiveSize)
}

func TestSetMaxCapacityAboveHardCeilingFails(t *testing.T) {
	b := New()
	err := b.SetMaxCapacity(hardCeiling + 1)
	assert.ErrorIs(t, err, ErrExceedsCeiling)
}

func TestResetShrinksOversizedBuffer(t *testing.T) {
	b := New()
	_, err := b.Reserve(1 << 20)
	require.NoError(t, err)
	require.Greater(t, b.Cap(), defaultCapacity)
	require.NoError(t, b.Reset())
	assert.Equal(t, defaultCapacity, b.Cap())
	assert.Equal(t, 0, b.Len())
}

func TestConsumeTailShrinksLiveRegion(t *testing.T) {
	b := New()
	p, err := b.Reserve(10)
	require.NoError(t, err)
	copy(p, []byte("0123456789"))
	require.NoError(t, b.ConsumeTail(4))
	assert.Equal(t, []byte("012345"), b.Bytes())
}
