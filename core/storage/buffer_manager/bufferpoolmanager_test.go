package buffermanager

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	diskmanager "github.com/strata-db/strata/core/storage/disk_manager"
	pagemanager "github.com/strata-db/strata/core/storage/page_manager"
)

// countingDiskManager wraps the real disk manager and counts the block-level
// I/O the pool issues, so tests can assert on duplicate loads and on flush
// behavior.
type countingDiskManager struct {
	diskmanager.DiskManager
	mu     sync.Mutex
	reads  map[pagemanager.BlockID]int
	writes map[pagemanager.BlockID]int
}

func (c *countingDiskManager) ReadBlock(block pagemanager.BlockID, data []byte) error {
	c.mu.Lock()
	c.reads[block]++
	c.mu.Unlock()
	return c.DiskManager.ReadBlock(block, data)
}

func (c *countingDiskManager) WriteBlock(block pagemanager.BlockID, data []byte) error {
	c.mu.Lock()
	c.writes[block]++
	c.mu.Unlock()
	return c.DiskManager.WriteBlock(block, data)
}

func (c *countingDiskManager) readCount(block pagemanager.BlockID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[block]
}

func (c *countingDiskManager) writeCount(block pagemanager.BlockID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[block]
}

// failingDiskManager wraps the real disk manager and fails writes to chosen
// blocks a configured number of times before letting them through.
type failingDiskManager struct {
	diskmanager.DiskManager
	mu         sync.Mutex
	failWrites map[pagemanager.BlockID]int
}

func (f *failingDiskManager) WriteBlock(block pagemanager.BlockID, data []byte) error {
	f.mu.Lock()
	if f.failWrites[block] > 0 {
		f.failWrites[block]--
		f.mu.Unlock()
		return fmt.Errorf("%w: injected write failure for %s", diskmanager.ErrIO, block)
	}
	f.mu.Unlock()
	return f.DiskManager.WriteBlock(block, data)
}

func newTestPool(t *testing.T, poolSize int, policy Policy) (*BufferPoolManager, *countingDiskManager, string) {
	t.Helper()
	dir := t.TempDir()
	real, err := diskmanager.NewFileDiskManager(diskmanager.Config{BaseDir: dir, CreateOnRead: true}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = real.Close() })

	counting := &countingDiskManager{
		DiskManager: real,
		reads:       make(map[pagemanager.BlockID]int),
		writes:      make(map[pagemanager.BlockID]int),
	}
	replacer, err := NewReplacer(policy)
	require.NoError(t, err)
	pool, err := NewBufferPoolManager(poolSize, counting, replacer, zap.NewNop(), nil)
	require.NoError(t, err)
	return pool, counting, dir
}

func block(index uint64) pagemanager.BlockID {
	return pagemanager.BlockIDForIndex("table.db", index)
}

func TestFetchHitServesFromMemory(t *testing.T) {
	pool, disk, _ := newTestPool(t, 4, PolicyLRU)
	b := block(0)

	pg1, err := pool.FetchPage(b)
	require.NoError(t, err)
	pg2, err := pool.FetchPage(b)
	require.NoError(t, err)

	require.Same(t, pg1, pg2, "hit must return the same frame")
	require.Equal(t, uint32(2), pg1.PinCount())
	require.Equal(t, 1, disk.readCount(b), "hit must not touch disk")

	require.NoError(t, pool.UnpinPage(b, false))
	require.NoError(t, pool.UnpinPage(b, false))
	require.Equal(t, uint32(0), pg1.PinCount())
}

func TestPinnedFrameIsNeverEvicted(t *testing.T) {
	pool, _, _ := newTestPool(t, 1, PolicyLRU)

	_, err := pool.FetchPage(block(0))
	require.NoError(t, err)

	// The only frame is pinned; a second distinct block cannot be placed.
	_, err = pool.FetchPage(block(1))
	require.ErrorIs(t, err, diskmanager.ErrBufferPoolExhausted)

	// After the pin drops the frame is reclaimable.
	require.NoError(t, pool.UnpinPage(block(0), false))
	_, err = pool.FetchPage(block(1))
	require.NoError(t, err)
	require.False(t, pool.IsResident(block(0)))
}

func TestPoolBound(t *testing.T) {
	const poolSize = 3
	pool, _, _ := newTestPool(t, poolSize, PolicyLRU)

	for i := uint64(0); i < poolSize; i++ {
		_, err := pool.FetchPage(block(i))
		require.NoError(t, err)
	}

	_, err := pool.FetchPage(block(poolSize))
	require.ErrorIs(t, err, diskmanager.ErrBufferPoolExhausted)
	require.Equal(t, poolSize, pool.ResidentCount())
}

func TestConcurrentFetchLoadsOnce(t *testing.T) {
	pool, disk, _ := newTestPool(t, 4, PolicyLRU)
	b := block(0)

	const callers = 16
	var wg sync.WaitGroup
	pages := make([]*pagemanager.Page, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			pages[n], errs[n] = pool.FetchPage(b)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Same(t, pages[0], pages[i], "all callers must share one frame")
	}
	require.Equal(t, 1, disk.readCount(b), "exactly one disk read for one missing block")
	require.Equal(t, uint32(callers), pages[0].PinCount())

	for i := 0; i < callers; i++ {
		require.NoError(t, pool.UnpinPage(b, false))
	}
}

func TestDirtyVictimIsFlushedBeforeReuse(t *testing.T) {
	pool, disk, _ := newTestPool(t, 1, PolicyLRU)
	a, b := block(0), block(1)

	pg, err := pool.FetchPage(a)
	require.NoError(t, err)
	copy(pg.Payload(), "mutated in memory")
	require.NoError(t, pool.UnpinPage(a, true))

	// Fetching B evicts A and must write A's bytes out first.
	_, err = pool.FetchPage(b)
	require.NoError(t, err)
	require.Equal(t, 1, disk.writeCount(a))
	require.NoError(t, pool.UnpinPage(b, false))

	// A's mutation survived the eviction round trip.
	pg, err = pool.FetchPage(a)
	require.NoError(t, err)
	require.Equal(t, "mutated in memory", string(pg.Payload()[:17]))
	require.NoError(t, pool.UnpinPage(a, false))
}

func TestCleanVictimCausesNoWrite(t *testing.T) {
	pool, disk, _ := newTestPool(t, 1, PolicyLRU)
	a := block(0)

	_, err := pool.FetchPage(a)
	require.NoError(t, err)
	require.NoError(t, pool.UnpinPage(a, false))

	_, err = pool.FetchPage(block(1))
	require.NoError(t, err)
	require.Zero(t, disk.writeCount(a), "clean eviction must not write")
}

func TestUnpinProtocolViolations(t *testing.T) {
	pool, _, _ := newTestPool(t, 2, PolicyLRU)

	err := pool.UnpinPage(block(0), false)
	require.ErrorIs(t, err, diskmanager.ErrPageNotResident)

	_, err = pool.FetchPage(block(0))
	require.NoError(t, err)
	require.NoError(t, pool.UnpinPage(block(0), false))

	err = pool.UnpinPage(block(0), false)
	require.ErrorIs(t, err, diskmanager.ErrPageNotPinned)
}

func TestDirtyFlagIsSticky(t *testing.T) {
	pool, _, _ := newTestPool(t, 2, PolicyLRU)
	b := block(0)

	pg, err := pool.FetchPage(b)
	require.NoError(t, err)
	_, err = pool.FetchPage(b)
	require.NoError(t, err)

	require.NoError(t, pool.UnpinPage(b, true))
	// A later clean unpin must not clear the dirty flag.
	require.NoError(t, pool.UnpinPage(b, false))
	require.True(t, pg.IsDirty())
}

func TestFlushPage(t *testing.T) {
	pool, disk, _ := newTestPool(t, 2, PolicyLRU)
	b := block(0)

	err := pool.FlushPage(b)
	require.ErrorIs(t, err, diskmanager.ErrPageNotResident)

	pg, err := pool.FetchPage(b)
	require.NoError(t, err)
	copy(pg.Payload(), "durable now")
	require.NoError(t, pool.UnpinPage(b, true))

	require.NoError(t, pool.FlushPage(b))
	require.False(t, pg.IsDirty())
	require.Equal(t, 1, disk.writeCount(b))
}

func TestFlushAllWritesEveryDirtyFrame(t *testing.T) {
	pool, disk, _ := newTestPool(t, 4, PolicyLRU)

	for i := uint64(0); i < 3; i++ {
		pg, err := pool.FetchPage(block(i))
		require.NoError(t, err)
		pg.Payload()[0] = byte(i + 1)
		require.NoError(t, pool.UnpinPage(block(i), i != 2)) // block 2 stays clean
	}

	require.NoError(t, pool.FlushAll())
	require.Equal(t, 1, disk.writeCount(block(0)))
	require.Equal(t, 1, disk.writeCount(block(1)))
	require.Zero(t, disk.writeCount(block(2)))
	require.Empty(t, pool.DirtyBlocks())
}

func TestChecksumMismatchSurfacesAsCorruption(t *testing.T) {
	pool, _, dir := newTestPool(t, 1, PolicyLRU)
	a := block(0)

	pg, err := pool.FetchPage(a)
	require.NoError(t, err)
	copy(pg.Payload(), "to be corrupted")
	require.NoError(t, pool.UnpinPage(a, true))
	require.NoError(t, pool.FlushPage(a))

	// Evict A so the next fetch goes back to disk.
	_, err = pool.FetchPage(block(1))
	require.NoError(t, err)
	require.NoError(t, pool.UnpinPage(block(1), false))
	require.False(t, pool.IsResident(a))

	// Corrupt A's payload out-of-band, leaving the stamped digest in place.
	path := filepath.Join(dir, "table.db")
	f, err := os.OpenFile(path, os.O_RDWR, 0666)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, int64(a.Offset)+5)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = pool.FetchPage(a)
	require.ErrorIs(t, err, diskmanager.ErrChecksumMismatch)
	require.False(t, pool.IsResident(a), "a corrupted page must not be installed")

	// The failed fetch evicted block 1 to make room; its frame is free
	// again and the pool stays usable.
	_, err = pool.FetchPage(block(2))
	require.NoError(t, err)
}

func TestAllocatePage(t *testing.T) {
	pool, _, _ := newTestPool(t, 2, PolicyLRU)

	pg, err := pool.AllocatePage("table.db")
	require.NoError(t, err)
	require.Equal(t, uint64(0), pg.BlockID().Offset)
	require.Equal(t, uint32(1), pg.PinCount())
	require.True(t, pg.IsDirty())

	pg2, err := pool.AllocatePage("table.db")
	require.NoError(t, err)
	require.Equal(t, uint64(pagemanager.PageSize), pg2.BlockID().Offset)
}

// The policy-divergence scenario: with two frames, reference A, B, A again,
// then fetch C. LRU evicts B (least recently unpinned); FIFO evicts A
// (oldest arrival, unchanged by the re-reference).
func TestEvictionPolicyDivergence(t *testing.T) {
	scenario := func(t *testing.T, policy Policy) (evictedA, evictedB bool) {
		pool, _, _ := newTestPool(t, 2, policy)
		a, b, c := block(0), block(1), block(2)

		for _, blk := range []pagemanager.BlockID{a, b, a} {
			_, err := pool.FetchPage(blk)
			require.NoError(t, err)
			require.NoError(t, pool.UnpinPage(blk, false))
		}

		_, err := pool.FetchPage(c)
		require.NoError(t, err)
		return !pool.IsResident(a), !pool.IsResident(b)
	}

	t.Run("lru", func(t *testing.T) {
		evictedA, evictedB := scenario(t, PolicyLRU)
		require.False(t, evictedA)
		require.True(t, evictedB)
	})
	t.Run("fifo", func(t *testing.T) {
		evictedA, evictedB := scenario(t, PolicyFIFO)
		require.True(t, evictedA)
		require.False(t, evictedB)
	})
}

// A dirty victim whose flush fails must keep its FIFO arrival position: once
// the disk recovers, eviction proceeds in the original arrival order.
func TestFailedVictimFlushKeepsFIFOOrder(t *testing.T) {
	dir := t.TempDir()
	real, err := diskmanager.NewFileDiskManager(diskmanager.Config{BaseDir: dir, CreateOnRead: true}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = real.Close() })

	a, b, c := block(0), block(1), block(2)
	failing := &failingDiskManager{
		DiskManager: real,
		failWrites:  map[pagemanager.BlockID]int{a: 1},
	}
	pool, err := NewBufferPoolManager(2, failing, NewFIFOReplacer(), zap.NewNop(), nil)
	require.NoError(t, err)

	for _, blk := range []pagemanager.BlockID{a, b} {
		_, err := pool.FetchPage(blk)
		require.NoError(t, err)
		require.NoError(t, pool.UnpinPage(blk, true))
	}

	// A is the oldest arrival and dirty; its write-back fails once.
	_, err = pool.FetchPage(c)
	require.ErrorIs(t, err, diskmanager.ErrIO)
	require.True(t, pool.IsResident(a))
	require.True(t, pool.IsResident(b))

	// The retry must still pick A, not fall through to B.
	_, err = pool.FetchPage(c)
	require.NoError(t, err)
	require.False(t, pool.IsResident(a))
	require.True(t, pool.IsResident(b))
}

func TestRoundTripAcrossPools(t *testing.T) {
	dir := t.TempDir()
	dm, err := diskmanager.NewFileDiskManager(diskmanager.Config{BaseDir: dir, CreateOnRead: true}, zap.NewNop())
	require.NoError(t, err)
	defer dm.Close()

	pool1, err := NewBufferPoolManager(2, dm, NewLRUReplacer(), zap.NewNop(), nil)
	require.NoError(t, err)
	pg, err := pool1.FetchPage(block(0))
	require.NoError(t, err)
	copy(pg.Payload(), "persisted payload")
	require.NoError(t, pool1.UnpinPage(block(0), true))
	require.NoError(t, pool1.FlushAll())

	// A second pool over the same files observes the flushed bytes.
	pool2, err := NewBufferPoolManager(2, dm, NewLRUReplacer(), zap.NewNop(), nil)
	require.NoError(t, err)
	pg, err = pool2.FetchPage(block(0))
	require.NoError(t, err)
	require.Equal(t, "persisted payload", string(pg.Payload()[:17]))
}

func TestConstructorValidation(t *testing.T) {
	_, err := NewBufferPoolManager(0, nil, nil, nil, nil)
	require.Error(t, err)

	dm, err := diskmanager.NewFileDiskManager(diskmanager.Config{BaseDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	defer dm.Close()

	_, err = NewBufferPoolManager(0, dm, nil, nil, nil)
	require.Error(t, err)

	pool, err := NewBufferPoolManager(4, dm, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 4, pool.PoolSize())
	require.NotEmpty(t, pool.ID())
}
