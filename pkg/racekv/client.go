package racekv

import "bytes"

// Client is a handle performing Search/Insert/Update/Delete against a
// cached Directory snapshot, per spec §9 ("Client operations ... with
// cached directory, re-read, refresh, and retry on concurrent splits").
//
// A Client is not safe for concurrent use by multiple goroutines; create
// one Client per goroutine via (*Index).NewClient. Multiple Clients over
// one Index run concurrently and are fully linearizable per key.
type Client struct {
	idx      *Index
	snapshot directorySnapshot
}

func (c *Client) refresh() {
	c.snapshot = c.idx.directory.snapshot()
}

// resolveSubtable resolves the live subtable behind directory index i in
// the client's cached snapshot. A nil result means the subtable was freed
// between the snapshot and this read (the last directory entry pointing at
// it was redirected by a split) — the caller must refresh and retry.
func (c *Client) resolveSubtable(i uint64) *subtable {
	entry := c.snapshot.at(i)

	return c.idx.registry.get(entry.subtableID())
}

// keyRoute bundles the four hash values a key needs for every operation,
// computed once per call.
type keyRoute struct {
	dirHash uint64
	g1, g2  uint64
	fp      uint8
}

func routeKey(key []byte, cfg Config) keyRoute {
	return keyRoute{
		dirHash: hashDirectory(key, cfg.MaxEntries),
		g1:      hashBucket1(key, cfg.BucketGroups),
		g2:      hashBucket2(key, cfg.BucketGroups),
		fp:      hashFingerprint(key),
	}
}

// Search implements spec §4.5.
func (c *Client) Search(key []byte) ([]byte, error) {
	if err := c.idx.checkClosed(); err != nil {
		return nil, err
	}

	route := routeKey(key, c.idx.cfg)

	for {
		i := directoryIndex(route.dirHash, c.snapshot.depth)

		t := c.resolveSubtable(i)
		if t == nil {
			c.refresh()

			continue
		}

		cbs := readCombinedBuckets(t, route.g1, route.g2)

		res := locateInCombinedBuckets(c.idx.arena, cbs, route.fp, key)
		if res.retryWholeOp {
			continue
		}

		if !headerAgrees(cbs, route.dirHash) {
			c.refresh()

			continue
		}

		if res.found {
			return res.value, nil
		}

		return nil, ErrNotFound
	}
}

// Insert implements spec §4.6.
func (c *Client) Insert(key, value []byte) error {
	if err := c.idx.checkClosed(); err != nil {
		return err
	}

	if err := validateKeyValue(key, value); err != nil {
		return err
	}

	h, length, err := writeKVBlock(c.idx.arena, key, value)
	if err != nil {
		return err
	}

	route := routeKey(key, c.idx.cfg)
	newWord := packSlot(route.fp, length, h)

	for {
		i := directoryIndex(route.dirHash, c.snapshot.depth)

		t := c.resolveSubtable(i)
		if t == nil {
			c.refresh()

			continue
		}

		cbs := readCombinedBuckets(t, route.g1, route.g2)

		res := locateInCombinedBuckets(c.idx.arena, cbs, route.fp, key)
		if res.retryWholeOp {
			continue
		}

		if !headerAgrees(cbs, route.dirHash) {
			c.refresh()

			continue
		}

		if res.found {
			freeKVBlock(c.idx.arena, newWord)

			return ErrExists
		}

		pos, ok := selectSlotPos(cbs, c.idx.cfg.SlotsPerBucket)
		if !ok {
			if err := c.rehash(i); err != nil {
				freeKVBlock(c.idx.arena, newWord)

				return err
			}

			continue
		}

		if !pos.bucket.slots[pos.slotIndex].compareAndSwap(0, newWord) {
			continue // CAS lost: back to step 2 (re-search).
		}

		// Re-read the header: if a split raced ahead between our read and our
		// CAS, this slot's subtable no longer owns the key. Roll back and
		// reinsert rather than leaving the key unreachable from the directory.
		freshHeader := pos.bucket.loadHeader()
		if freshHeader.suffix() != directoryIndex(route.dirHash, freshHeader.localDepth()) {
			pos.bucket.slots[pos.slotIndex].compareAndSwap(newWord, 0)

			continue
		}

		t.liveSlotCount.Add(1)

		return nil
	}
}

// Update implements spec §4.7.
func (c *Client) Update(key, value []byte) error {
	if err := c.idx.checkClosed(); err != nil {
		return err
	}

	if err := validateKeyValue(key, value); err != nil {
		return err
	}

	route := routeKey(key, c.idx.cfg)

	for {
		i := directoryIndex(route.dirHash, c.snapshot.depth)

		t := c.resolveSubtable(i)
		if t == nil {
			c.refresh()

			continue
		}

		cbs := readCombinedBuckets(t, route.g1, route.g2)

		if !headerAgrees(cbs, route.dirHash) {
			c.refresh()

			continue
		}

		res := locateInCombinedBuckets(c.idx.arena, cbs, route.fp, key)
		if res.retryWholeOp {
			continue
		}

		if !res.found {
			return ErrNotFound
		}

		h, length, err := writeKVBlock(c.idx.arena, key, value)
		if err != nil {
			return err
		}

		newWord := packSlot(route.fp, length, h)

		if !res.bucket.slots[res.index].compareAndSwap(res.word, newWord) {
			freeKVBlock(c.idx.arena, newWord)

			continue // cas-lost: re-read and retry.
		}

		freeKVBlock(c.idx.arena, res.word)

		return nil
	}
}

// Delete implements spec §4.8.
func (c *Client) Delete(key []byte) error {
	if err := c.idx.checkClosed(); err != nil {
		return err
	}

	route := routeKey(key, c.idx.cfg)

	for {
		i := directoryIndex(route.dirHash, c.snapshot.depth)

		t := c.resolveSubtable(i)
		if t == nil {
			c.refresh()

			continue
		}

		cbs := readCombinedBuckets(t, route.g1, route.g2)

		if !headerAgrees(cbs, route.dirHash) {
			c.refresh()

			continue
		}

		res := locateInCombinedBuckets(c.idx.arena, cbs, route.fp, key)
		if res.retryWholeOp {
			continue
		}

		if !res.found {
			return ErrNotFound
		}

		if !res.bucket.slots[res.index].compareAndSwap(res.word, 0) {
			c.refresh()

			continue
		}

		freeKVBlock(c.idx.arena, res.word)
		t.liveSlotCount.Add(-1)

		return nil
	}
}

func (c *Client) rehash(iHint uint64) error {
	err := rehash(c.idx, iHint)
	c.refresh()

	return err
}

// slotPos captures a tentative insertion target, per spec §4.4.
type slotPos struct {
	bucket    *bucket
	slotIndex int
}

// selectSlotPos implements the §4.4 slot selection policy.
func selectSlotPos(cbs [2]combinedBucket, slotsPerBucket int) (slotPos, bool) {
	count0 := cbs[0].count(slotsPerBucket)
	count1 := cbs[1].count(slotsPerBucket)

	if count0 == 2*slotsPerBucket && count1 == 2*slotsPerBucket {
		return slotPos{}, false
	}

	chosen, count := cbs[0], count0
	if count1 < count0 {
		chosen, count = cbs[1], count1
	}

	if count < slotsPerBucket {
		return slotPos{bucket: chosen.mainBucket, slotIndex: count}, true
	}

	return slotPos{bucket: chosen.overflowBucket, slotIndex: count - slotsPerBucket}, true
}

// locateResult is the outcome of scanning one or more combined buckets for
// a key.
type locateResult struct {
	bucket       *bucket
	index        int
	word         slotWord
	value        []byte
	found        bool
	retryWholeOp bool
}

func locateInCombinedBuckets(a *arena, cbs [2]combinedBucket, fp uint8, key []byte) locateResult {
	if res := locateInCombined(a, cbs[0], fp, key); res.found || res.retryWholeOp {
		return res
	}

	return locateInCombined(a, cbs[1], fp, key)
}

func locateInCombined(a *arena, cb combinedBucket, fp uint8, key []byte) locateResult {
	if res := locateInBucket(a, cb.mainBucket, cb.main, fp, key); res.found || res.retryWholeOp {
		return res
	}

	return locateInBucket(a, cb.overflowBucket, cb.overflow, fp, key)
}

// locateInBucket scans a snapshot's slots for a fingerprint+key match.
//
// Per §4.3 the snapshot may contain holes from concurrent deletes, so every
// slot is scanned — an empty slot is never treated as a stop sentinel.
// A CRC mismatch (§4.5 step 3 / §7) means the slot is being concurrently
// rewritten; it is bounded-retried against the *live* slot (not the stale
// snapshot) up to maxCRCRetries before giving up and asking the caller to
// restart the whole operation.
func locateInBucket(a *arena, live *bucket, snap bucketSnapshot, fp uint8, key []byte) locateResult {
	for i, w := range snap.slots {
		if w.empty() || w.fingerprint() != fp {
			continue
		}

		buf := a.bytes(w.handle(), int(w.length()))

		k, v, ok := decodeKVBlock(buf)
		if ok {
			if bytes.Equal(k, key) {
				return locateResult{bucket: live, index: i, word: w, value: v, found: true}
			}

			continue
		}

		if res, resolved := retryTornSlot(a, live, i, fp, key); resolved {
			if res.found {
				return res
			}

			continue
		}

		return locateResult{retryWholeOp: true}
	}

	return locateResult{}
}

// retryTornSlot re-reads slot i from the live bucket (not the snapshot) up
// to maxCRCRetries times, looking for either a resolved read (CRC now
// valid, whatever the content) or the slot having been cleared.
func retryTornSlot(a *arena, live *bucket, i int, fp uint8, key []byte) (locateResult, bool) {
	for attempt := 0; attempt < maxCRCRetries; attempt++ {
		cur := live.slots[i].load()
		if cur.empty() {
			return locateResult{}, true
		}

		buf := a.bytes(cur.handle(), int(cur.length()))

		k, v, ok := decodeKVBlock(buf)
		if !ok {
			continue
		}

		if cur.fingerprint() == fp && bytes.Equal(k, key) {
			return locateResult{bucket: live, index: i, word: cur, value: v, found: true}, true
		}

		return locateResult{}, true
	}

	return locateResult{}, false
}

func writeKVBlock(a *arena, key, value []byte) (handle, uint8, error) {
	buf, err := encodeKVBlock(key, value)
	if err != nil {
		return 0, 0, err
	}

	h, allocSize, err := a.malloc(len(buf))
	if err != nil {
		return 0, 0, err
	}

	copy(a.bytes(h, allocSize), buf)

	return h, uint8(len(buf)), nil
}

func freeKVBlock(a *arena, w slotWord) {
	if w.handle() == 0 {
		return
	}

	a.free(w.handle(), roundUpAlign(int(w.length())))
}
