package racekv

import "sync/atomic"

// bucketRoleMain0, bucketRoleOverflow, bucketRoleMain2 are the fixed
// positions inside a bucketGroup (§3): main/overflow is a positional
// distinction, not a type distinction, per spec §9's redesign guidance.
const (
	bucketRoleMain0    = 0
	bucketRoleOverflow = 1
	bucketRoleMain2    = 2
)

// bucketGroup is exactly three buckets: main0, the shared overflow, and
// main2. A key selecting group g via H1 uses (g, main0) as its main bucket
// and (g, overflow) as its side-A overflow; a key selecting group g' via H2
// uses (g', main2) as its main bucket and (g', overflow) as its side-B
// overflow.
type bucketGroup struct {
	buckets [BucketsPerGroup]*bucket
}

func newBucketGroup(slotsPerBucket int) *bucketGroup {
	g := &bucketGroup{}
	for i := range g.buckets {
		g.buckets[i] = newBucket(slotsPerBucket)
	}

	return g
}

// subtable is the fixed-shape hash region of §3: an array of B bucket
// groups. Its (local_depth, suffix) pair is logically one value, physically
// replicated into every bucket header (see initHeader).
type subtable struct {
	groups []*bucketGroup

	// liveSlotCount is an advisory counter, incremented/decremented alongside
	// successful slot CAS operations in client.go's Insert/Delete. It is
	// never consulted by Search, Insert, Update, Delete, or the split
	// protocol itself, so races on it cannot violate any invariant in spec
	// §3/§8 — it is read only by (*Index).Stats, which cmd/race-cli's
	// "stats" command calls. Supplemented from
	// original_source/src/race/subtable.rs, which keeps a similar counter.
	liveSlotCount atomic.Int64
}

func newSubtable(bucketGroups, slotsPerBucket int) *subtable {
	t := &subtable{groups: make([]*bucketGroup, bucketGroups)}
	for i := range t.groups {
		t.groups[i] = newBucketGroup(slotsPerBucket)
	}

	return t
}

// initHeader writes (localDepth, suffix) into every bucket header of every
// group in the subtable. Called once when a subtable is created (fresh) or
// during a split to bump an existing subtable's local depth (§4.9).
func (t *subtable) initHeader(localDepth uint8, suffix uint64) {
	w := packBucketHeader(localDepth, suffix)

	for _, g := range t.groups {
		for _, b := range g.buckets {
			b.storeHeader(w)
		}
	}
}

// combinedBucket is the logical view a reader of one "side" uses: its main
// bucket plus the shared overflow (§4.3/glossary).
type combinedBucket struct {
	main     bucketSnapshot
	overflow bucketSnapshot

	mainBucket     *bucket
	overflowBucket *bucket
}

// count implements the §4.3 count rule: used(main) if < S, else S+used(overflow).
func (cb combinedBucket) count(slotsPerBucket int) int {
	used := cb.main.used()
	if used < slotsPerBucket {
		return used
	}

	return slotsPerBucket + cb.overflow.used()
}

// readCombinedBuckets returns CB[0] (group g1's main0+overflow) and CB[1]
// (group g2's main2+overflow), per §4.3.
func readCombinedBuckets(t *subtable, g1, g2 uint64) [2]combinedBucket {
	group1 := t.groups[g1]
	group2 := t.groups[g2]

	return [2]combinedBucket{
		{
			main:           group1.buckets[bucketRoleMain0].snapshot(),
			overflow:       group1.buckets[bucketRoleOverflow].snapshot(),
			mainBucket:     group1.buckets[bucketRoleMain0],
			overflowBucket: group1.buckets[bucketRoleOverflow],
		},
		{
			main:           group2.buckets[bucketRoleMain2].snapshot(),
			overflow:       group2.buckets[bucketRoleOverflow].snapshot(),
			mainBucket:     group2.buckets[bucketRoleMain2],
			overflowBucket: group2.buckets[bucketRoleOverflow],
		},
	}
}

// headerAgrees reports whether both combined buckets' headers agree with
// the expected suffix at their own local depth — the check in §4.5 step 4 /
// §4.8 step 1. A false result means a split has redirected the key and the
// caller must refresh its directory snapshot and restart.
func headerAgrees(cbs [2]combinedBucket, dirHash uint64) bool {
	for _, cb := range cbs {
		ld := cb.main.header.localDepth()
		if cb.main.header.suffix() != directoryIndex(dirHash, ld) {
			return false
		}
	}

	return true
}
