package racekv

// Hardcoded implementation limits and defaults.
//
// These mirror the constants in spec §3 ("Configuration constants"). They
// are compiled-in defaults; a deployment overrides them via Config (see
// internal/config), not via environment variables or flags.
const (
	// DefaultBucketGroups is B, the bucket-group count per subtable.
	DefaultBucketGroups = 1024

	// BucketsPerGroup is Bk, fixed by the wire format: main(0), overflow(1), main(2).
	BucketsPerGroup = 3

	// DefaultSlotsPerBucket is S, slots per bucket.
	DefaultSlotsPerBucket = 7

	// FingerprintBits is FP_BITS, the width of the fingerprint stored in a slot.
	FingerprintBits = 8

	// DefaultMaxEntries is MAX_ENTRIES, the directory's fixed capacity.
	DefaultMaxEntries = 1 << 16

	// DefaultPageSize is the slab allocator's page size in bytes.
	DefaultPageSize = 4096

	// Align is the allocator's byte alignment for every block.
	Align = 8

	// maxKVTotalSize is the largest total size (header + key + value) a KV
	// block may occupy; it must fit in the slot word's 8-bit length field.
	maxKVTotalSize = 255

	// kvHeaderSize is len(klen) + len(vlen) + len(crc64) in bytes.
	kvHeaderSize = 2 + 2 + 8

	// maxTryLockTimes bounds try-lock spin attempts before giving up.
	maxTryLockTimes = 1000

	// maxCRCRetries bounds retries on a torn/concurrently-rewritten KV block
	// read before the caller restarts the whole operation.
	maxCRCRetries = 8
)
