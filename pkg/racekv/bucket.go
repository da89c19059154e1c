package racekv

import "sync/atomic"

// bucketHeaderWord is the 64-bit layout of §3: [local_depth(8) | suffix(56)].
// It is replicated in every bucket of a subtable so a reader of any single
// bucket learns the subtable's identity without a separate lookup.
type bucketHeaderWord uint64

const (
	bucketSuffixBits = 56
	bucketSuffixMask = (uint64(1) << bucketSuffixBits) - 1
)

func packBucketHeader(localDepth uint8, suffix uint64) bucketHeaderWord {
	return bucketHeaderWord(uint64(localDepth)<<bucketSuffixBits | suffix&bucketSuffixMask)
}

func (w bucketHeaderWord) localDepth() uint8 { return uint8(uint64(w) >> bucketSuffixBits) }
func (w bucketHeaderWord) suffix() uint64    { return uint64(w) & bucketSuffixMask }

// bucket holds one atomic header word plus S atomic slots. Insertion fills
// slots left-to-right; an empty slot (len==0) is a stop sentinel only for
// the `count` estimate (§4.3) — concurrent delete can leave holes, and
// Search/scan code must never assume a non-empty slot cannot follow one.
type bucket struct {
	header atomic.Uint64
	slots  []slot
}

func newBucket(slotsPerBucket int) *bucket {
	return &bucket{slots: make([]slot, slotsPerBucket)}
}

func (b *bucket) loadHeader() bucketHeaderWord {
	return bucketHeaderWord(b.header.Load())
}

func (b *bucket) storeHeader(w bucketHeaderWord) {
	b.header.Store(uint64(w))
}

// usedCounting scans for the first empty slot and returns how many
// non-empty slots precede it. This is the `count` rule of §4.3: it is an
// estimate under concurrent delete ("holes"), used only to pick insertion
// targets, never to decide correctness of Search.
func (b *bucket) usedCounting() int {
	for i, s := range b.slots {
		if s.load().empty() {
			return i
		}
	}

	return len(b.slots)
}

// bucketSnapshot is an atomic-loaded copy of one bucket's header and slots,
// per §4.3 ("Each CombinedBucket is a snapshot").
type bucketSnapshot struct {
	header bucketHeaderWord
	slots  []slotWord
}

func (b *bucket) snapshot() bucketSnapshot {
	words := make([]slotWord, len(b.slots))
	for i := range b.slots {
		words[i] = b.slots[i].load()
	}

	return bucketSnapshot{header: b.loadHeader(), slots: words}
}

func (s bucketSnapshot) used() int {
	for i, w := range s.slots {
		if w.empty() {
			return i
		}
	}

	return len(s.slots)
}
