package racekv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackBucketHeaderRoundTrips(t *testing.T) {
	t.Parallel()

	w := packBucketHeader(5, 0x00FFFFFFFFFFFF)
	assert.Equal(t, uint8(5), w.localDepth())
	assert.Equal(t, uint64(0x00FFFFFFFFFFFF), w.suffix())
}

func TestBucketUsedCountingStopsAtFirstEmpty(t *testing.T) {
	t.Parallel()

	b := newBucket(DefaultSlotsPerBucket)

	require.Equal(t, 0, b.usedCounting())

	b.slots[0].store(packSlot(1, 1, handle(1)))
	b.slots[1].store(packSlot(1, 1, handle(2)))
	require.Equal(t, 2, b.usedCounting())

	// A hole after slot 1 (slot 2 empty, slot 3 occupied) still reports 2,
	// matching spec §4.3's "count" rule used only for insertion targeting —
	// it is not a claim about total occupancy.
	b.slots[3].store(packSlot(1, 1, handle(4)))
	require.Equal(t, 2, b.usedCounting())
}

func TestBucketSnapshotIsolatesFromLiveMutation(t *testing.T) {
	t.Parallel()

	b := newBucket(DefaultSlotsPerBucket)
	b.slots[0].store(packSlot(9, 9, handle(9)))

	snap := b.snapshot()
	require.Equal(t, 1, snap.used())

	b.slots[0].store(0)
	assert.Equal(t, 1, snap.used(), "snapshot must not observe later mutation")
}
