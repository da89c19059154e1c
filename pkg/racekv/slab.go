package racekv

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// handle is an opaque 48-bit tagged reference into an arena, resolved to a
// byte slice via (*arena).bytes. Per spec §9's redesign guidance ("model
// these as opaque 48-bit tagged handles resolved through a base-address
// table or arena index"), no raw pointer ever appears in a Slot or
// DirectoryEntry word; only this handle's 48 low bits do.
//
// A handle packs {pageIndex: 24 | offset: 24}. Page index is 1-based so
// that handle 0 is never a valid allocation, matching spec's "ptr != 0"
// convention for a non-empty slot.
type handle uint64

const (
	handlePageBits   = 24
	handleOffsetMask = (uint64(1) << handlePageBits) - 1
)

func makeHandle(pageIndex, offset uint32) handle {
	return handle(uint64(pageIndex)<<handlePageBits | uint64(offset)&handleOffsetMask)
}

func (h handle) pageIndex() uint32 { return uint32(uint64(h) >> handlePageBits) }
func (h handle) offset() uint32    { return uint32(uint64(h) & handleOffsetMask) }

// freeBlock is one entry in a page's ascending-address free list.
type freeBlock struct {
	offset uint32
	size   uint32
}

// page is one mmap-backed region of the arena. It is not pinned to a NUMA
// node (see allocPage).
type page struct {
	data []byte
	free []freeBlock // sorted by ascending offset
}

// arena is the NUMA slab allocator of spec §4.1. It owns a list of
// fixed-size (or larger, for oversized requests) pages drawn from
// unix.Mmap, and serves malloc/free against their free lists.
//
// malloc/free mutate a page's free list and the page table itself, so they
// serialize behind mu, matching the "process-wide mutex in the
// shared-memory deployment" language. bytes() is the read path every
// Search/Insert/Update/Delete call takes to dereference a slot's handle
// (spec.md:88 "Readers are lock-free"); it must not share that mutex, or
// every KV-block read in the index would serialize behind one global lock.
// Instead the page table is held in pagesPtr, an atomic.Pointer swapped to
// a freshly copied slice whenever malloc appends a page (under mu); bytes()
// loads it with no lock at all. A page's own data slice is written once at
// allocPage time and never mutated afterward, so a concurrent bytes() read
// of p.data never races with malloc/free mutating that same page's
// (mu-protected) free list.
type arena struct {
	mu       sync.Mutex
	pagesPtr atomic.Pointer[[]*page] // index 0 unused; (*pagesPtr)[i] backs page index i (1-based)
	pageSize int
	numaNode int
}

func newArena(cfg Config) *arena {
	a := &arena{
		pageSize: cfg.PageSize,
		numaNode: cfg.NUMANode,
	}

	initial := []*page{nil} // reserve index 0
	a.pagesPtr.Store(&initial)

	return a
}

// close unmaps every page. Not safe to call concurrently with in-flight
// malloc/free.
func (a *arena) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error

	for _, p := range *a.pagesPtr.Load() {
		if p == nil {
			continue
		}

		if err := unix.Munmap(p.data); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	reset := []*page{nil}
	a.pagesPtr.Store(&reset)

	return firstErr
}

func roundUpAlign(size int) int {
	return (size + Align - 1) &^ (Align - 1)
}

// allocPage mmaps a new anonymous page of at least minSize bytes, rounded
// up to a whole number of pageSize-sized pages, and advises the kernel with
// MADV_HUGEPAGE on a best-effort basis. NUMA-node pinning itself
// (numa_alloc_onnode in the original) has no portable Go equivalent without
// cgo; the node is recorded for diagnostics only.
func (a *arena) allocPage(minSize int) (*page, error) {
	pages := (minSize + a.pageSize - 1) / a.pageSize
	if pages < 1 {
		pages = 1
	}

	size := pages * a.pageSize

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w: %w", size, err, ErrAllocatorOOM)
	}

	_ = unix.Madvise(data, unix.MADV_HUGEPAGE)

	return &page{
		data: data,
		free: []freeBlock{{offset: 0, size: uint32(size)}},
	}, nil
}

// malloc rounds size up to Align bytes, scans pages for a free block large
// enough (first-fit), splits it, and returns a handle to the allocation.
// On miss it allocates a new page sized to fit the request.
func (a *arena) malloc(size int) (handle, int, error) {
	if size <= 0 || size > maxKVTotalSize {
		return 0, 0, fmt.Errorf("malloc size %d: %w", size, ErrInvalidInput)
	}

	need := roundUpAlign(size)

	a.mu.Lock()
	defer a.mu.Unlock()

	pages := *a.pagesPtr.Load()

	for idx := 1; idx < len(pages); idx++ {
		p := pages[idx]
		if off, ok := p.take(need); ok {
			return makeHandle(uint32(idx), off), need, nil
		}
	}

	p, err := a.allocPage(need)
	if err != nil {
		return 0, 0, err
	}

	newPages := make([]*page, len(pages)+1)
	copy(newPages, pages)
	idx := len(pages)
	newPages[idx] = p
	a.pagesPtr.Store(&newPages)

	off, ok := p.take(need)
	if !ok {
		// Cannot happen: a freshly allocated page always has need bytes free.
		return 0, 0, fmt.Errorf("malloc: fresh page too small for %d bytes: %w", need, ErrAllocatorOOM)
	}

	return makeHandle(uint32(idx), off), need, nil
}

// free locates the page owning h by its (1-based) page index, inserts the
// freed block back into that page's free list in address order, then
// coalesces forward-adjacent blocks. size must be the value malloc
// returned (already Align-rounded); double-free is undefined, per spec.
func (a *arena) free(h handle, size int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pages := *a.pagesPtr.Load()

	idx := h.pageIndex()
	if int(idx) >= len(pages) || pages[idx] == nil {
		return
	}

	pages[idx].put(h.offset(), uint32(size))
}

// bytes returns the length-byte slice backing h. The returned slice aliases
// the arena's page memory; callers must not retain it past a free of h.
//
// This is the lock-free read path: it loads the page table via the atomic
// pointer and indexes into an immutable page's data, taking no lock at all,
// so concurrent readers never serialize behind each other or behind an
// in-flight malloc/free.
func (a *arena) bytes(h handle, length int) []byte {
	pages := *a.pagesPtr.Load()

	idx := h.pageIndex()
	if int(idx) >= len(pages) || pages[idx] == nil {
		return nil
	}

	p := pages[idx]
	off := h.offset()

	if int(off)+length > len(p.data) {
		return nil
	}

	return p.data[off : off+uint32(length)]
}

// take finds the first free block >= need, splits it, and returns the
// offset of the allocated prefix.
func (p *page) take(need int) (uint32, bool) {
	for i := range p.free {
		if int(p.free[i].size) >= need {
			off := p.free[i].offset

			if int(p.free[i].size) == need {
				p.free = append(p.free[:i], p.free[i+1:]...)
			} else {
				p.free[i].offset += uint32(need)
				p.free[i].size -= uint32(need)
			}

			return off, true
		}
	}

	return 0, false
}

// put inserts a freed block back into the sorted free list and coalesces
// it with its adjacent free neighbors on either side.
func (p *page) put(offset, size uint32) {
	i := 0
	for i < len(p.free) && p.free[i].offset < offset {
		i++
	}

	p.free = append(p.free, freeBlock{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = freeBlock{offset: offset, size: size}

	// Coalesce with the following block.
	if i+1 < len(p.free) && p.free[i].offset+p.free[i].size == p.free[i+1].offset {
		p.free[i].size += p.free[i+1].size
		p.free = append(p.free[:i+1], p.free[i+2:]...)
	}

	// Coalesce with the preceding block.
	if i > 0 && p.free[i-1].offset+p.free[i-1].size == p.free[i].offset {
		p.free[i-1].size += p.free[i].size
		p.free = append(p.free[:i], p.free[i+1:]...)
	}
}
