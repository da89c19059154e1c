package racekv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingHashMatchesHornerByHand(t *testing.T) {
	t.Parallel()

	// "ab" with multiplier 31, capacity 97:
	// h = ((0 % 97) * 31 + 'a') % 97 is NOT taken per-step in the final mod;
	// rollingHash takes %capacity at every step, matching original_source's
	// "hash = hash % capicity as u64 * M + byte" accumulation.
	key := []byte("ab")
	capacity := uint64(97)

	var want uint64
	for _, b := range key {
		want = (want%capacity)*31 + uint64(b)
	}
	want %= capacity

	got := rollingHash(key, capacity, hashMulBucket1)
	assert.Equal(t, want, got)
}

func TestHashFingerprintFitsInByte(t *testing.T) {
	t.Parallel()

	for _, k := range [][]byte{[]byte(""), []byte("x"), []byte("a long example key")} {
		fp := hashFingerprint(k)
		assert.LessOrEqual(t, int(fp), 255)
	}
}

func TestHashBucketIndicesAreWithinCapacity(t *testing.T) {
	t.Parallel()

	bucketGroups := 64
	for i := 0; i < 500; i++ {
		key := []byte{byte(i), byte(i >> 8), byte(i * 7)}

		g1 := hashBucket1(key, bucketGroups)
		g2 := hashBucket2(key, bucketGroups)

		require.Less(t, g1, uint64(bucketGroups))
		require.Less(t, g2, uint64(bucketGroups))
	}
}

func TestDirectoryIndexMasksLowBits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(0b101), directoryIndex(0b1101, 3))
	assert.Equal(t, uint64(0b1101), directoryIndex(0b1101, 4))
	assert.Equal(t, uint64(0), directoryIndex(0b1101, 0))
}
