package racekv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackSlotRoundTrips(t *testing.T) {
	t.Parallel()

	w := packSlot(0xAB, 0x42, handle(0x0000FFFFFFFFFFFF))

	assert.Equal(t, uint8(0xAB), w.fingerprint())
	assert.Equal(t, uint8(0x42), w.length())
	assert.Equal(t, handle(0x0000FFFFFFFFFFFF), w.handle())
	assert.False(t, w.empty())
}

func TestEmptySlotWordIsEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, slotWord(0).empty())

	// A zero-length slot is empty even with a nonzero fingerprint byte
	// sitting in the high bits.
	w := packSlot(0xFF, 0, 0)
	assert.True(t, w.empty())
}

func TestSlotCompareAndSwap(t *testing.T) {
	t.Parallel()

	var s slot

	w1 := packSlot(1, 5, handle(100))
	assert.True(t, s.compareAndSwap(0, w1))
	assert.False(t, s.compareAndSwap(0, w1)) // already set, CAS from 0 fails

	w2 := packSlot(2, 6, handle(200))
	assert.True(t, s.compareAndSwap(w1, w2))
	assert.Equal(t, w2, s.load())
}
