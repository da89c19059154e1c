// Package racekv implements a concurrent, resizable key-value index based
// on RACE-style extendible hashing.
//
// racekv maps variable-length string keys to variable-length string
// values (combined length, with header, bounded at 255 bytes — see
// [ErrInvalidInput]) and supports concurrent Search/Insert/Update/Delete from many
// goroutines. The table resizes online, through directory doubling and
// per-bucket splitting, without globally quiescing.
//
// racekv is not a durable store: there is no persistence, no replication,
// and no ordered iteration. It is the control plane for an in-memory (or,
// with a disaggregated-memory transport behind the same atomics, shared
// remote-memory) hash index.
//
// # Basic usage
//
//	idx, err := racekv.NewIndex(racekv.DefaultConfig())
//	if err != nil {
//	    // handle allocator failure
//	}
//	defer idx.Close()
//
//	client := idx.NewClient()
//
//	err = client.Insert([]byte("key42"), []byte("val42"))
//	value, err := client.Search([]byte("key42"))
//
// # Concurrency
//
//   - Multiple [Client] handles may operate on one [Index] concurrently
//     from separate goroutines; a single [Client] is not itself safe for
//     concurrent use.
//   - Every operation is a bounded-retry loop over lock-free reads and CAS;
//     splits use coarse per-directory-entry spin locks, never blocking
//     readers of subtables they do not touch.
//
// # Error handling
//
// [ErrNotFound] and [ErrExists] are ordinary control-flow results, not
// failures. [ErrCapacityExceeded] and [ErrAllocatorOOM] are fatal to the
// call that received them. [ErrInvalidInput] means the combined encoded
// size of a key and value exceeds what the slot format can address.
package racekv
