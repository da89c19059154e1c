package racekv

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLockEntryExcludesConcurrentHolder(t *testing.T) {
	t.Parallel()

	d := newDirectory(4)
	d.entries[0].Store(uint64(packDirectoryEntry(false, 1, 5)))

	held, ok := tryLockEntry(d, 0)
	require.True(t, ok)
	assert.True(t, held.locked())

	_, ok = tryLockEntry(d, 0)
	assert.False(t, ok, "a second try-lock must fail while the first holds the lock")

	unlockEntry(d, 0, held)

	held2, ok := tryLockEntry(d, 0)
	require.True(t, ok)
	assert.Equal(t, uint8(1), held2.localDepth())
	assert.Equal(t, uint64(5), held2.subtableID())
}

func TestLockEntryBlocksUntilReleased(t *testing.T) {
	t.Parallel()

	d := newDirectory(4)
	d.entries[0].Store(uint64(packDirectoryEntry(false, 2, 9)))

	first := lockEntry(d, 0)

	acquired := make(chan struct{})

	go func() {
		second := lockEntry(d, 0)
		unlockEntry(d, 0, second)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lockEntry acquired before the first released")
	case <-time.After(20 * time.Millisecond):
	}

	unlockEntry(d, 0, first)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lockEntry never acquired after release")
	}
}

func TestLockEntryIsMutuallyExclusiveUnderContention(t *testing.T) {
	t.Parallel()

	d := newDirectory(4)
	d.entries[0].Store(uint64(packDirectoryEntry(false, 1, 1)))

	var (
		wg          sync.WaitGroup
		insideCount int32
		sawOverlap  bool
		mu          sync.Mutex
	)

	for i := 0; i < 32; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			w := lockEntry(d, 0)

			mu.Lock()
			insideCount++
			if insideCount > 1 {
				sawOverlap = true
			}
			mu.Unlock()

			mu.Lock()
			insideCount--
			mu.Unlock()

			unlockEntry(d, 0, w)
		}()
	}

	wg.Wait()
	assert.False(t, sawOverlap)
}
