package racekv

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// subtableRef is a reference-counted handle to a live subtable. refCount is
// the number of directory entries currently pointing at it; when it drops
// to zero the subtable is removed from the registry (spec §3 Ownership /
// §9 redesign guidance — "a reference-counted handle per subtable ...
// enables safe reclamation and replaces the source's implicit leak").
type subtableRef struct {
	table    *subtable
	refCount atomic.Int32
}

// subtableRegistry maps the small subtableID packed into directory entries
// to the actual *subtable Go value, so directory words stay single
// 64-bit atomics with no raw pointers (spec §9).
type subtableRegistry struct {
	mu     sync.RWMutex
	nextID atomic.Uint64
	byID   map[uint64]*subtableRef
}

func newSubtableRegistry() *subtableRegistry {
	r := &subtableRegistry{byID: make(map[uint64]*subtableRef)}
	r.nextID.Store(1) // 0 is reserved for "no subtable"

	return r
}

// register adds a freshly created subtable with an initial refCount of n
// (the number of directory entries about to be pointed at it) and returns
// its ID.
func (r *subtableRegistry) register(t *subtable, initialRefs int32) uint64 {
	id := r.nextID.Add(1) - 1

	ref := &subtableRef{table: t}
	ref.refCount.Store(initialRefs)

	r.mu.Lock()
	r.byID[id] = ref
	r.mu.Unlock()

	return id
}

func (r *subtableRegistry) get(id uint64) *subtable {
	r.mu.RLock()
	ref, ok := r.byID[id]
	r.mu.RUnlock()

	if !ok {
		return nil
	}

	return ref.table
}

// release decrements id's refCount and drops it from the registry when the
// last referencing directory entry has been redirected away.
func (r *subtableRegistry) release(id uint64) {
	r.mu.RLock()
	ref, ok := r.byID[id]
	r.mu.RUnlock()

	if !ok {
		return
	}

	if ref.refCount.Add(-1) <= 0 {
		r.mu.Lock()
		delete(r.byID, id)
		r.mu.Unlock()
	}
}

func (r *subtableRegistry) retain(id uint64, n int32) {
	r.mu.RLock()
	ref, ok := r.byID[id]
	r.mu.RUnlock()

	if ok {
		ref.refCount.Add(n)
	}
}

// Index is the storage-side, owning value of spec §9's redesign guidance:
// "Replace module-level mutability with an explicit Index value owning
// allocator and directory; clients take a handle. No hidden global state."
//
// A single-process deployment (spec §1) collapses the Storage and Client
// roles into this one value plus however many *Client handles are created
// against it.
type Index struct {
	cfg       Config
	arena     *arena
	directory *directory
	registry  *subtableRegistry

	closed atomic.Bool
}

// NewIndex creates an Index with the given configuration, starting with a
// global depth of 1 and two subtables (suffix 0 and suffix 1), each with
// local depth 1 — the minimal directory that still demonstrates local vs.
// global depth divergence (spec §8 scenario 3 starts from exactly this
// shape).
func NewIndex(cfg Config) (*Index, error) {
	cfg = cfg.withDefaults()

	idx := &Index{
		cfg:       cfg,
		arena:     newArena(cfg),
		directory: newDirectory(cfg.MaxEntries),
		registry:  newSubtableRegistry(),
	}

	t0 := newSubtable(cfg.BucketGroups, cfg.SlotsPerBucket)
	t0.initHeader(1, 0)
	id0 := idx.registry.register(t0, 1)

	t1 := newSubtable(cfg.BucketGroups, cfg.SlotsPerBucket)
	t1.initHeader(1, 1)
	id1 := idx.registry.register(t1, 1)

	idx.directory.entries[0].Store(uint64(packDirectoryEntry(false, 1, id0)))
	idx.directory.entries[1].Store(uint64(packDirectoryEntry(false, 1, id1)))
	idx.directory.depth.Store(1)

	return idx, nil
}

// Close releases the Index's arena pages. It is not safe to call while any
// Client operation is in flight.
func (idx *Index) Close() error {
	if !idx.closed.CompareAndSwap(false, true) {
		return nil
	}

	return idx.arena.close()
}

// NewClient returns a new Client handle bound to this Index, with its own
// cached directory snapshot. Multiple Clients may be created concurrently
// against one Index, modeling multiple disaggregated compute clients
// sharing one storage image (spec §1).
func (idx *Index) NewClient() *Client {
	return &Client{idx: idx, snapshot: idx.directory.snapshot()}
}

// IndexStats is a point-in-time diagnostic snapshot, returned by
// (*Index).Stats and printed by cmd/race-cli's "stats" command.
type IndexStats struct {
	// GlobalDepth is the directory's current global depth D.
	GlobalDepth uint8

	// BucketGroups is B, the configured bucket-group count per subtable.
	BucketGroups int

	// LiveSlots is the sum of liveSlotCount across every distinct subtable
	// currently referenced by the directory (a subtable pointed at by
	// multiple directory entries after a split is counted once).
	LiveSlots int64
}

// Stats walks the current directory snapshot and aggregates each distinct
// subtable's liveSlotCount, per spec §9's diagnostic surface.
func (idx *Index) Stats() IndexStats {
	snap := idx.directory.snapshot()

	seen := make(map[uint64]bool, len(snap.entries))

	var live int64

	for _, entry := range snap.entries {
		id := entry.subtableID()
		if seen[id] {
			continue
		}

		seen[id] = true

		if t := idx.registry.get(id); t != nil {
			live += t.liveSlotCount.Load()
		}
	}

	return IndexStats{
		GlobalDepth:  snap.depth,
		BucketGroups: idx.cfg.BucketGroups,
		LiveSlots:    live,
	}
}

func (idx *Index) checkClosed() error {
	if idx.closed.Load() {
		return ErrClosed
	}

	return nil
}

func validateKeyValue(key, value []byte) error {
	total := kvHeaderSize + len(key) + len(value)
	if total > maxKVTotalSize {
		return fmt.Errorf("key+value %d bytes exceeds %d: %w", total, maxKVTotalSize, ErrInvalidInput)
	}

	return nil
}
