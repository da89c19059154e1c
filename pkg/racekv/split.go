package racekv

import "bytes"

// rehash is the central protocol of spec §4.9. iHint is the directory
// index the failing insert tried to target.
func rehash(idx *Index, iHint uint64) error {
	ld := idx.directory.load(iHint).localDepth()
	old := iHint & ((uint64(1) << ld) - 1)
	newSuffix := old | (uint64(1) << ld)

	if newSuffix >= uint64(1)<<idx.directory.globalDepth() {
		if err := directoryDouble(idx); err != nil {
			return err
		}
	}

	// First lock only the representative old/new entries, then re-read the
	// directory so any intervening doubling is observed before acquiring the
	// rest of the suffix sets (§4.9 "Suffix lock and flush").
	lockedOld := lockEntry(idx.directory, old)
	lockedNew := lockEntry(idx.directory, newSuffix)

	D := idx.directory.globalDepth()
	oldMembers := suffixMembers(old, ld+1, D)
	newMembers := suffixMembers(newSuffix, ld+1, D)

	oldLocks := map[uint64]directoryEntryWord{old: lockedOld}
	for _, k := range oldMembers {
		if k != old {
			oldLocks[k] = lockEntry(idx.directory, k)
		}
	}

	newLocks := map[uint64]directoryEntryWord{newSuffix: lockedNew}
	for _, k := range newMembers {
		if k != newSuffix {
			newLocks[k] = lockEntry(idx.directory, k)
		}
	}

	// Re-check local depth after locking: if it no longer matches what we
	// captured, another splitter already ran this split. Release and let
	// the caller's insert retry.
	if idx.directory.load(old).localDepth() != ld {
		unlockAll(idx.directory, oldLocks)
		unlockAll(idx.directory, newLocks)

		return nil
	}

	oldID := lockedOld.subtableID()
	oldTable := idx.registry.get(oldID)

	newTable := newSubtable(idx.cfg.BucketGroups, idx.cfg.SlotsPerBucket)
	newTable.initHeader(ld+1, newSuffix)
	newID := idx.registry.register(newTable, int32(len(newMembers)))

	// Publish the new subtable to the directory *before* bumping the old
	// subtable's header (§4.9 ordering). Readers observing the stale old
	// header during this window fail their suffix check and refresh,
	// correctly landing on the new subtable for new-bit-set keys.
	for k, w := range newLocks {
		next := packDirectoryEntry(true, ld+1, newID)
		idx.directory.compareAndSwap(k, w, next)
		newLocks[k] = next
	}

	for k, w := range oldLocks {
		next := packDirectoryEntry(true, ld+1, oldID)
		idx.directory.compareAndSwap(k, w, next)
		oldLocks[k] = next
	}

	oldTable.initHeader(ld+1, old)

	migrate(idx, oldTable, newTable, ld+1, newSuffix)

	// Every member of newMembers pointed at oldTable before this split
	// (they shared the old suffix at depth ld); each is now redirected to
	// newTable, so oldTable loses one reference per redirected member.
	for range newMembers {
		idx.registry.release(oldID)
	}

	unlockAll(idx.directory, oldLocks)
	unlockAll(idx.directory, newLocks)

	return nil
}

// directoryDouble implements spec §4.9's Directory Double.
func directoryDouble(idx *Index) error {
	for {
		d := idx.directory.globalDepth()
		if uint64(1)<<d == uint64(idx.cfg.MaxEntries) {
			return ErrCapacityExceeded
		}

		n := uint64(1) << d

		locks := make([]directoryEntryWord, n)
		for i := uint64(0); i < n; i++ {
			locks[i] = lockEntry(idx.directory, i)
		}

		if idx.directory.globalDepth() != d {
			// Another doubler finished while we were locking; retry.
			for i := uint64(0); i < n; i++ {
				unlockEntry(idx.directory, i, locks[i])
			}

			continue
		}

		for j := n; j < 2*n; j++ {
			src := idx.directory.load(j - n)
			w := packDirectoryEntry(false, src.localDepth(), src.subtableID())

			if idx.directory.writeNewEntry(j, w) {
				idx.registry.retain(src.subtableID(), 1)
			}
		}

		idx.directory.depth.Store(uint32(d + 1))

		for i := uint64(0); i < n; i++ {
			unlockEntry(idx.directory, i, locks[i])
		}

		return nil
	}
}

// suffixMembers returns every directory index k in [0, 2^D) whose low
// `depth` bits equal suffix, i.e. the full suffix set for that subtable.
func suffixMembers(suffix uint64, depth uint8, D uint8) []uint64 {
	step := uint64(1) << depth
	n := uint64(1) << D

	out := make([]uint64, 0, n/step)
	for k := suffix & (step - 1); k < n; k += step {
		out = append(out, k)
	}

	return out
}

func unlockAll(d *directory, locks map[uint64]directoryEntryWord) {
	for k, w := range locks {
		unlockEntry(d, k, w)
	}
}

// migrate iterates every slot of oldTable and relocates the ones whose
// directory hash now falls in the new suffix set, per §4.9 "Item migration".
func migrate(idx *Index, oldTable, newTable *subtable, newDepth uint8, newSuffix uint64) {
	for gi, g := range oldTable.groups {
		for bi, b := range g.buckets {
			for si := range b.slots {
				migrateSlot(idx, oldTable.groups[gi].buckets[bi], newTable.groups[gi].buckets[bi], si, newDepth, newSuffix)
			}
		}
	}
}

func migrateSlot(idx *Index, oldBucket, newBucket *bucket, si int, newDepth uint8, newSuffix uint64) {
	for attempt := 0; attempt < maxCRCRetries; attempt++ {
		w := oldBucket.slots[si].load()
		if w.empty() {
			return
		}

		buf := idx.arena.bytes(w.handle(), int(w.length()))

		key, value, ok := decodeKVBlock(buf)
		if !ok {
			continue // torn read of a concurrently-rewritten slot; retry.
		}

		dirHash := hashDirectory(key, idx.cfg.MaxEntries)
		if directoryIndex(dirHash, newDepth) != newSuffix {
			return // stays in the old subtable, untouched.
		}

		migrateOne(idx, oldBucket, newBucket, si, w, key, value)

		return
	}
}

// migrateOne performs the actual relocation of one key already known to
// belong in newTable: write a fresh KV block at the identical position,
// then clear the source, handling concurrent writers per §4.9 step 3.
func migrateOne(idx *Index, oldBucket, newBucket *bucket, si int, w slotWord, key, value []byte) {
	h, length, err := writeKVBlock(idx.arena, key, value)
	if err != nil {
		return // allocator OOM mid-split: leave the key in the old subtable.
	}

	newWord := packSlot(w.fingerprint(), length, h)

	if !newBucket.slots[si].compareAndSwap(0, newWord) {
		// The target position in a freshly allocated subtable is only ever
		// touched by the migrator before publication; this should not
		// happen. Drop our duplicate and leave the source alone.
		freeKVBlock(idx.arena, newWord)

		return
	}

	for {
		if oldBucket.slots[si].compareAndSwap(w, 0) {
			freeKVBlock(idx.arena, w)

			return
		}

		cur := oldBucket.slots[si].load()
		if cur.empty() {
			// Concurrently deleted: undo our copy in the new subtable too.
			if newBucket.slots[si].compareAndSwap(newWord, 0) {
				freeKVBlock(idx.arena, newWord)
			}

			return
		}

		buf := idx.arena.bytes(cur.handle(), int(cur.length()))

		k, v, ok := decodeKVBlock(buf)
		if !ok || !bytes.Equal(k, key) {
			// Torn read, or the slot now holds a different key entirely
			// (shouldn't happen for a fixed slot position pre-migration);
			// retry the clear against the latest word.
			w = cur

			continue
		}

		// Concurrently updated: carry the new value into our copy, then
		// retry clearing the source against the updated word.
		h2, length2, err2 := writeKVBlock(idx.arena, k, v)
		if err2 != nil {
			w = cur

			continue
		}

		updated := packSlot(cur.fingerprint(), length2, h2)
		if newBucket.slots[si].compareAndSwap(newWord, updated) {
			freeKVBlock(idx.arena, newWord)
			newWord = updated
		} else {
			freeKVBlock(idx.arena, updated)
		}

		w = cur
	}
}
