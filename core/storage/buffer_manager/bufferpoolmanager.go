package buffermanager

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	diskmanager "github.com/strata-db/strata/core/storage/disk_manager"
	pagemanager "github.com/strata-db/strata/core/storage/page_manager"
)

// BufferPoolManager arbitrates bounded-memory, pinned access to disk blocks.
// It owns a fixed array of frames allocated once at construction, a
// block-to-frame page table and a pluggable replacer; it is the sole caller
// of the disk manager's write path for page contents.
//
// All structural state (page table, pins, victim selection) is guarded by one
// pool mutex, held across the disk I/O of a miss. That single critical
// section is what guarantees exactly one loader per missing block: a second
// fetch for the same block waits and then takes the hit path.
type BufferPoolManager struct {
	id          string
	diskManager diskmanager.DiskManager
	pages       []*pagemanager.Page // index is FrameID
	pageTable   map[pagemanager.BlockID]FrameID
	freeList    []FrameID
	replacer    Replacer
	mu          sync.Mutex
	logger      *zap.Logger
	metrics     *Metrics
}

// NewBufferPoolManager allocates poolSize frames up front. The pool never
// grows or shrinks afterwards.
func NewBufferPoolManager(poolSize int, dm diskmanager.DiskManager, replacer Replacer, logger *zap.Logger, metrics *Metrics) (*BufferPoolManager, error) {
	if dm == nil {
		return nil, fmt.Errorf("buffer pool requires a disk manager")
	}
	if poolSize <= 0 {
		return nil, fmt.Errorf("buffer pool size must be positive, got %d", poolSize)
	}
	if replacer == nil {
		replacer = NewLRUReplacer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	b := &BufferPoolManager{
		id:          id,
		diskManager: dm,
		pages:       make([]*pagemanager.Page, poolSize),
		pageTable:   make(map[pagemanager.BlockID]FrameID),
		freeList:    make([]FrameID, poolSize),
		replacer:    replacer,
		logger:      logger.With(zap.String("pool_id", id)),
		metrics:     metrics,
	}
	for i := 0; i < poolSize; i++ {
		b.pages[i] = pagemanager.NewPage()
		b.freeList[i] = FrameID(i)
	}
	b.logger.Info("buffer pool initialized",
		zap.Int("pool_size", poolSize),
		zap.Int("page_size", pagemanager.PageSize),
	)
	return b, nil
}

// FetchPage returns the frame holding the block, pinned for the caller. On a
// miss the block is loaded from disk into a free or evicted frame; the frame
// of a pinned page is never reclaimed. Fails with ErrBufferPoolExhausted when
// every frame is pinned, and with ErrChecksumMismatch when the loaded image
// fails integrity verification.
func (b *BufferPoolManager) FetchPage(block pagemanager.BlockID) (*pagemanager.Page, error) {
	if !block.IsValid() {
		return nil, fmt.Errorf("%w: %s", diskmanager.ErrInvalidBlock, block)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if frameID, ok := b.pageTable[block]; ok {
		pg := b.pages[frameID]
		pg.Pin()
		b.replacer.Pin(frameID)
		b.metrics.addHit()
		b.logger.Debug("fetch hit", zap.Stringer("block", block), zap.Uint32("pin_count", pg.PinCount()))
		return pg, nil
	}

	b.metrics.addMiss()
	frameID, err := b.reserveFrame()
	if err != nil {
		return nil, fmt.Errorf("fetching block %s: %w", block, err)
	}

	pg := b.pages[frameID]
	if err := b.diskManager.ReadBlock(block, pg.Data()); err != nil {
		b.freeList = append(b.freeList, frameID)
		return nil, err
	}
	if stored, computed := pagemanager.ReadChecksums(pg.Data()); stored != 0 && stored != computed {
		b.freeList = append(b.freeList, frameID)
		return nil, fmt.Errorf("%w: block %s stored 0x%08x computed 0x%08x",
			diskmanager.ErrChecksumMismatch, block, stored, computed)
	}

	pg.Bind(block)
	pg.SetPinCount(1)
	pg.SetDirty(false)
	b.pageTable[block] = frameID
	b.replacer.Pin(frameID)
	b.logger.Debug("fetch miss loaded", zap.Stringer("block", block), zap.Int32("frame", int32(frameID)))
	return pg, nil
}

// reserveFrame hands out a frame for a new block: from the free list if one
// is left, otherwise by evicting an unpinned frame, flushing it first when
// dirty. Must be called with the pool mutex held. The returned frame is
// unbound, absent from the page table and zeroed.
func (b *BufferPoolManager) reserveFrame() (FrameID, error) {
	if len(b.freeList) > 0 {
		frameID := b.freeList[0]
		b.freeList = b.freeList[1:]
		return frameID, nil
	}

	frameID, ok := b.replacer.Victim()
	if !ok {
		b.metrics.addExhausted()
		return 0, fmt.Errorf("%w: pool size %d", diskmanager.ErrBufferPoolExhausted, len(b.pages))
	}

	victim := b.pages[frameID]
	if victim.IsBound() {
		if victim.IsDirty() {
			pagemanager.StampChecksum(victim.Data())
			if err := b.diskManager.WriteBlock(victim.BlockID(), victim.Data()); err != nil {
				// The frame still holds the only up-to-date copy of its
				// block. The replacer was not touched, so the frame keeps
				// its position and stays evictable for the next attempt.
				return 0, fmt.Errorf("flushing victim %s: %w", victim.BlockID(), err)
			}
			victim.SetDirty(false)
			b.metrics.addFlush()
		}
		b.logger.Debug("evicting frame",
			zap.Stringer("block", victim.BlockID()),
			zap.Int32("frame", int32(frameID)),
		)
		delete(b.pageTable, victim.BlockID())
		b.metrics.addEviction()
	}
	b.replacer.Remove(frameID)
	victim.Reset()
	return frameID, nil
}

// UnpinPage drops one pin on the block's frame. markDirty is OR'd into the
// frame's dirty flag, never cleared here. The frame becomes an eviction
// candidate at the moment its pin count returns to zero.
func (b *BufferPoolManager) UnpinPage(block pagemanager.BlockID, markDirty bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameID, ok := b.pageTable[block]
	if !ok {
		return fmt.Errorf("%w: %s", diskmanager.ErrPageNotResident, block)
	}
	pg := b.pages[frameID]
	if pg.PinCount() == 0 {
		return fmt.Errorf("%w: %s", diskmanager.ErrPageNotPinned, block)
	}

	pg.Unpin()
	if markDirty {
		pg.SetDirty(true)
	}
	if pg.PinCount() == 0 {
		b.replacer.Unpin(frameID)
	}
	b.logger.Debug("unpin", zap.Stringer("block", block), zap.Uint32("pin_count", pg.PinCount()), zap.Bool("dirty", pg.IsDirty()))
	return nil
}

// FlushPage writes the frame's current image to disk regardless of the dirty
// flag and clears the flag on success. The page may be pinned: the flush
// holds the page latch, so a pin holder accessing the page under its latch
// can never observe or cause a torn image.
func (b *BufferPoolManager) FlushPage(block pagemanager.BlockID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(block)
}

func (b *BufferPoolManager) flushLocked(block pagemanager.BlockID) error {
	frameID, ok := b.pageTable[block]
	if !ok {
		return fmt.Errorf("%w: %s", diskmanager.ErrPageNotResident, block)
	}

	// The latch covers both the stamp and the write, so the checksum on
	// disk always matches the bytes written next to it. The write latch is
	// needed because the stamp mutates the page tail. Page latches are
	// never held across pool calls, so this cannot deadlock.
	pg := b.pages[frameID]
	pg.Lock()
	pagemanager.StampChecksum(pg.Data())
	err := b.diskManager.WriteBlock(block, pg.Data())
	pg.Unlock()
	if err != nil {
		return err
	}
	pg.SetDirty(false)
	b.metrics.addFlush()
	return nil
}

// FlushAll writes every dirty frame back to disk and syncs the touched
// files. Every frame is attempted; the first error is returned.
func (b *BufferPoolManager) FlushAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	files := make(map[string]struct{})
	for _, pg := range b.pages {
		if !pg.IsBound() || !pg.IsDirty() {
			continue
		}
		if err := b.flushLocked(pg.BlockID()); err != nil {
			b.logger.Error("flush failed", zap.Stringer("block", pg.BlockID()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		files[pg.BlockID().FileName] = struct{}{}
	}

	for name := range files {
		if err := b.diskManager.Sync(name); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// AllocatePage extends the file by one block and returns its frame, pinned
// and marked dirty so the zeroed image reaches disk even if untouched.
func (b *BufferPoolManager) AllocatePage(fileName string) (*pagemanager.Page, error) {
	block, err := b.diskManager.AllocateBlock(fileName)
	if err != nil {
		return nil, err
	}
	pg, err := b.FetchPage(block)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	pg.SetDirty(true)
	b.mu.Unlock()
	return pg, nil
}

// DirtyBlocks snapshots the blocks whose frames are currently dirty. Used by
// the background flusher; the set may be stale by the time it is acted on.
func (b *BufferPoolManager) DirtyBlocks() []pagemanager.BlockID {
	b.mu.Lock()
	defer b.mu.Unlock()

	var blocks []pagemanager.BlockID
	for _, pg := range b.pages {
		if pg.IsBound() && pg.IsDirty() {
			blocks = append(blocks, pg.BlockID())
		}
	}
	return blocks
}

// IsResident reports whether the block currently occupies a frame.
func (b *BufferPoolManager) IsResident(block pagemanager.BlockID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pageTable[block]
	return ok
}

// ID returns the pool's instance identifier, as carried in its log fields.
func (b *BufferPoolManager) ID() string {
	return b.id
}

// PoolSize returns the fixed number of frames.
func (b *BufferPoolManager) PoolSize() int {
	return len(b.pages)
}

// ResidentCount returns the number of frames currently bound to a block.
func (b *BufferPoolManager) ResidentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pageTable)
}
