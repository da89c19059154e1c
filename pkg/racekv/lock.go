package racekv

import "runtime"

// Directory-entry split locks, per spec §4.10.
//
// Acquire = CAS(entry, old_unlocked, old_with_lock_set). The value
// observed on CAS failure carries both the lock bit and any concurrent
// (local_depth, subtable_ptr) change, so the caller can tell "locked by
// someone else" from "stale snapshot" and re-read the directory — grounded
// on the teacher's getOrCreateRegistryEntry CAS-retry loop in lock.go
// (load current, check, CAS, retry on failure).

// tryLockEntry attempts to set the lock bit on directory index i, giving up
// after maxTryLockTimes failed attempts. Returns the entry's state the last
// time it was observed (useful to the caller for re-planning) and whether
// the lock was acquired.
func tryLockEntry(d *directory, i uint64) (directoryEntryWord, bool) {
	for attempt := 0; attempt < maxTryLockTimes; attempt++ {
		cur := d.load(i)
		if cur.locked() {
			runtime.Gosched()

			continue
		}

		locked := cur.withLock(true)
		if d.compareAndSwap(i, cur, locked) {
			return locked, true
		}
	}

	return d.load(i), false
}

// lockEntry blocks until it acquires the split-lock on directory index i,
// refreshing its view of the entry on every failed attempt (spec: "blocking
// lock spins indefinitely but refreshes the snapshot each miss").
func lockEntry(d *directory, i uint64) directoryEntryWord {
	for {
		cur := d.load(i)
		if cur.locked() {
			runtime.Gosched()

			continue
		}

		locked := cur.withLock(true)
		if d.compareAndSwap(i, cur, locked) {
			return locked
		}
	}
}

// unlockEntry clears the lock bit via a CAS from locked->unlocked carrying
// the same (local_depth, subtable_ptr) bits the caller last observed.
func unlockEntry(d *directory, i uint64, locked directoryEntryWord) {
	unlocked := locked.withLock(false)
	if !d.compareAndSwap(i, locked, unlocked) {
		// Another party mutated (local_depth, subtable_ptr) bits while we
		// held the lock, which can only happen if the whole entry word was
		// rewritten by someone else holding the same lock — a protocol
		// violation. Force-clear the bit with the entry's current bits to
		// avoid leaving the directory permanently locked.
		cur := d.load(i)
		d.compareAndSwap(i, cur, cur.withLock(false))
	}
}
