package rcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixHashLength(t *testing.T) {
	h, err := PrefixHash(strings.NewReader("hello, world"), 12)
	require.NoError(t, err)
	assert.Len(t, h, HashLen)
}

func TestPrefixHashIsStableForSameContent(t *testing.T) {
	a, err := PrefixHash(strings.NewReader("same bytes"), 10)
	require.NoError(t, err)
	b, err := PrefixHash(strings.NewReader("same bytes"), 10)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPrefixHashDiffersOnDifferentContent(t *testing.T) {
	a, err := PrefixHash(strings.NewReader("aaaaaaaaaa"), 10)
	require.NoError(t, err)
	b, err := PrefixHash(strings.NewReader("bbbbbbbbbb"), 10)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPrefixHashOnlyConsidersRequestedLength(t *testing.T) {
	a, err := PrefixHash(strings.NewReader("0123456789extra-tail-bytes"), 10)
	require.NoError(t, err)
	b, err := PrefixHash(strings.NewReader("0123456789"), 10)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPrefixHashStopsAtShortRead(t *testing.T) {
	// length exceeds what the reader actually has; the hash should
	// still be computed over whatever bytes were available, not error.
	h, err := PrefixHash(strings.NewReader("short"), 100)
	require.NoError(t, err)
	assert.Len(t, h, HashLen)
}

func TestPrefixHashHandlesExactChunkBoundary(t *testing.T) {
	content := strings.Repeat("x", hashReadChunk)
	h, err := PrefixHash(strings.NewReader(content), int64(hashReadChunk))
	require.NoError(t, err)
	assert.Len(t, h, HashLen)
}

func TestEmptyHashMatchesPrefixHashOfNothing(t *testing.T) {
	empty, err := EmptyHash()
	require.NoError(t, err)

	zero, err := PrefixHash(strings.NewReader(""), 0)
	require.NoError(t, err)

	assert.Equal(t, empty, zero)
}

func TestPrefixHashRejectsNegativeLength(t *testing.T) {
	_, err := PrefixHash(strings.NewReader("x"), -1)
	assert.Error(t, err)
}
