package racekv

// Four independent rolling (Horner) hashes over the key's raw bytes, per
// spec §4.2. Grounded on original_source/src/race/common/hash.rs, which
// defines the same four multipliers for the same four roles.
//
// Each accumulator takes the modulus at every step ("capacity-modded at
// each step to avoid overflow"), not just at the end, so the result is
// identical to the Rust original bit-for-bit for any capacity that fits in
// a uint64 multiply without overflow (true for all capacities this package
// uses).
const (
	hashMulBucket1   = 31
	hashMulBucket2   = 131
	hashMulFP        = 1313
	hashMulDirectory = 13131
)

func rollingHash(key []byte, capacity uint64, mul uint64) uint64 {
	var h uint64

	for _, b := range key {
		h = (h%capacity)*mul + uint64(b)
	}

	return h % capacity
}

// hashBucket1 selects the first bucket-group index, H1(k) mod B.
func hashBucket1(key []byte, bucketGroups int) uint64 {
	return rollingHash(key, uint64(bucketGroups), hashMulBucket1)
}

// hashBucket2 selects the second bucket-group index, H2(k) mod B.
func hashBucket2(key []byte, bucketGroups int) uint64 {
	return rollingHash(key, uint64(bucketGroups), hashMulBucket2)
}

// hashFingerprint computes the 8-bit fingerprint, Hfp(k) mod 2^FP_BITS.
func hashFingerprint(key []byte) uint8 {
	return uint8(rollingHash(key, uint64(1)<<FingerprintBits, hashMulFP))
}

// hashDirectory computes the directory-index generator, Hdir(k) mod MAX_ENTRIES.
func hashDirectory(key []byte, maxEntries int) uint64 {
	return rollingHash(key, uint64(maxEntries), hashMulDirectory)
}

// directoryIndex returns Hdir(k) & ((1<<depth)-1), the live directory index
// for a key at the given depth (global depth D for clients, local depth ld
// for a specific subtable's suffix test).
func directoryIndex(dirHash uint64, depth uint8) uint64 {
	return dirHash & ((uint64(1) << depth) - 1)
}
