package racekv

import "errors"

// Error classification. Implementations MAY wrap these with additional
// context via fmt.Errorf("...: %w", ...); callers MUST classify using
// errors.Is.
var (
	// ErrNotFound is returned by Search/Update/Delete when the key has no
	// live slot.
	ErrNotFound = errors.New("racekv: not found")

	// ErrExists is returned by Insert when the key already has a live slot.
	ErrExists = errors.New("racekv: exists")

	// ErrCapacityExceeded is returned when a split would need to double the
	// directory past MaxEntries (global depth already at its cap).
	ErrCapacityExceeded = errors.New("racekv: capacity exceeded")

	// ErrInvalidInput is returned when a key or value violates the 255-byte
	// encoded KV block limit, or a key/value is otherwise malformed.
	ErrInvalidInput = errors.New("racekv: invalid input")

	// ErrAllocatorOOM is returned when the slab allocator cannot satisfy a
	// page allocation (e.g. mmap failure).
	ErrAllocatorOOM = errors.New("racekv: allocator out of memory")

	// ErrClosed is returned by any operation on an Index after Close.
	ErrClosed = errors.New("racekv: closed")
)
