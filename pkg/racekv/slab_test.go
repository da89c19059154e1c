package racekv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArena(t *testing.T) *arena {
	t.Helper()

	a := newArena(Config{PageSize: DefaultPageSize, NUMANode: 0})
	t.Cleanup(func() { _ = a.close() })

	return a
}

func TestMallocReturnsAlignedDistinctHandles(t *testing.T) {
	t.Parallel()

	a := testArena(t)

	h1, size1, err := a.malloc(10)
	require.NoError(t, err)
	assert.Equal(t, 0, size1%Align)

	h2, _, err := a.malloc(10)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestMallocWritesAreIsolated(t *testing.T) {
	t.Parallel()

	a := testArena(t)

	h1, size1, err := a.malloc(16)
	require.NoError(t, err)

	h2, size2, err := a.malloc(16)
	require.NoError(t, err)

	b1 := a.bytes(h1, size1)
	b2 := a.bytes(h2, size2)

	for i := range b1 {
		b1[i] = 0xAA
	}

	for i := range b2 {
		b2[i] = 0xBB
	}

	assert.Equal(t, byte(0xAA), a.bytes(h1, size1)[0])
	assert.Equal(t, byte(0xBB), a.bytes(h2, size2)[0])
}

func TestFreeAllowsReuse(t *testing.T) {
	t.Parallel()

	a := testArena(t)

	h1, size1, err := a.malloc(32)
	require.NoError(t, err)

	a.free(h1, size1)

	h2, size2, err := a.malloc(32)
	require.NoError(t, err)
	assert.Equal(t, size1, size2)
	assert.Equal(t, h1, h2, "the freed block must be handed out again")
}

func TestFreeCoalescesAdjacentBlocks(t *testing.T) {
	t.Parallel()

	a := testArena(t)

	h1, size1, err := a.malloc(40)
	require.NoError(t, err)

	h2, size2, err := a.malloc(40)
	require.NoError(t, err)

	a.free(h1, size1)
	a.free(h2, size2)

	// After freeing two adjacent blocks they should coalesce into one big
	// enough to satisfy a single allocation of their combined size.
	h3, allocSize, err := a.malloc(size1 + size2)
	require.NoError(t, err)
	assert.Equal(t, size1+size2, allocSize)
	assert.Equal(t, h1, h3, "first fit must land on the coalesced block starting at h1")
}

func TestMallocRejectsOversizeAndZero(t *testing.T) {
	t.Parallel()

	a := testArena(t)

	_, _, err := a.malloc(0)
	require.Error(t, err)

	_, _, err = a.malloc(256)
	require.Error(t, err)
}

func TestMallocSpansNewPageOnExhaustion(t *testing.T) {
	t.Parallel()

	a := newArena(Config{PageSize: 64, NUMANode: 0})
	t.Cleanup(func() { _ = a.close() })

	// Exhaust the first page's capacity, forcing a second page allocation.
	for i := 0; i < 10; i++ {
		_, _, err := a.malloc(16)
		require.NoError(t, err)
	}

	assert.Greater(t, len(*a.pagesPtr.Load()), 2)
}
