package diskmanager

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	pagemanager "github.com/strata-db/strata/core/storage/page_manager"
)

// Config holds the settings for a FileDiskManager.
type Config struct {
	// BaseDir is the directory all block files live under.
	BaseDir string `yaml:"base_dir"`
	// CreateOnRead makes ReadBlock create a missing file instead of failing,
	// in which case the read returns a zero-filled block.
	CreateOnRead bool `yaml:"create_on_read"`
}

// fileHandle pairs an open file with the mutex that serializes every
// operation on that file name.
type fileHandle struct {
	mu   sync.Mutex
	file *os.File
}

// FileDiskManager is the os.File-backed DiskManager. Handles are opened
// lazily on first access to a file name and reused until CloseFile/Close; at
// most one handle exists per name.
type FileDiskManager struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex // guards files and closed
	files  map[string]*fileHandle
	closed bool
}

var _ DiskManager = (*FileDiskManager)(nil)

// NewFileDiskManager creates the base directory if needed and returns a
// manager with no handles open yet.
func NewFileDiskManager(cfg Config, logger *zap.Logger) (*FileDiskManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "."
	}
	if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating base dir %s: %v", ErrIO, cfg.BaseDir, err)
	}
	return &FileDiskManager{
		cfg:    cfg,
		logger: logger,
		files:  make(map[string]*fileHandle),
	}, nil
}

// handle returns the open handle for fileName, opening it first if this is
// the first reference. With create set, a missing file is created.
func (dm *FileDiskManager) handle(fileName string, create bool) (*fileHandle, error) {
	if fileName == "" {
		return nil, fmt.Errorf("%w: empty file name", ErrInvalidBlock)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return nil, ErrClosed
	}
	if h, ok := dm.files[fileName]; ok {
		return h, nil
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	path := filepath.Join(dm.cfg.BaseDir, fileName)
	file, err := os.OpenFile(path, flags, 0666)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: opening file %s: %v", ErrPermissionDenied, fileName, err)
		}
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, fileName, err)
	}

	h := &fileHandle{file: file}
	dm.files[fileName] = h
	dm.logger.Debug("opened block file",
		zap.String("file", fileName),
		zap.Bool("create", create),
	)
	return h, nil
}

// ReadBlock reads the block into data, zero-filling any region past the
// current end of the file.
func (dm *FileDiskManager) ReadBlock(block pagemanager.BlockID, data []byte) error {
	if !block.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidBlock, block)
	}
	if len(data) != pagemanager.PageSize {
		return fmt.Errorf("%w: read buffer size (%d) != page size (%d)", ErrInvalidBlock, len(data), pagemanager.PageSize)
	}

	h, err := dm.handle(block.FileName, dm.cfg.CreateOnRead)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.file.ReadAt(data, int64(block.Offset))
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: reading block %s: %v", ErrIO, block, err)
	}
	// Short reads happen when the block extends past end-of-file; the tail
	// of such a block is defined to be zero.
	for i := n; i < len(data); i++ {
		data[i] = 0
	}
	return nil
}

// WriteBlock overwrites the block in place. The file is extended as needed;
// existing content outside the block is never shifted.
func (dm *FileDiskManager) WriteBlock(block pagemanager.BlockID, data []byte) error {
	if !block.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidBlock, block)
	}
	if len(data) != pagemanager.PageSize {
		return fmt.Errorf("%w: write buffer size (%d) != page size (%d)", ErrInvalidBlock, len(data), pagemanager.PageSize)
	}

	h, err := dm.handle(block.FileName, true)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.file.WriteAt(data, int64(block.Offset)); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: writing block %s: %v", ErrPermissionDenied, block, err)
		}
		return fmt.Errorf("%w: writing block %s: %v", ErrIO, block, err)
	}
	// No Sync here: syncing every write would defeat the buffer pool. The
	// caller decides when durability is required via Sync.
	return nil
}

// AllocateBlock appends a zeroed block at end-of-file and returns its ID.
func (dm *FileDiskManager) AllocateBlock(fileName string) (pagemanager.BlockID, error) {
	h, err := dm.handle(fileName, true)
	if err != nil {
		return pagemanager.BlockID{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	fi, err := h.file.Stat()
	if err != nil {
		return pagemanager.BlockID{}, fmt.Errorf("%w: stating file %s: %v", ErrIO, fileName, err)
	}

	index := uint64(fi.Size()) / pagemanager.PageSize
	block := pagemanager.BlockIDForIndex(fileName, index)
	empty := make([]byte, pagemanager.PageSize)
	if _, err := h.file.WriteAt(empty, int64(block.Offset)); err != nil {
		return pagemanager.BlockID{}, fmt.Errorf("%w: extending file for block %s: %v", ErrIO, block, err)
	}

	dm.logger.Debug("allocated block", zap.String("file", fileName), zap.Uint64("offset", block.Offset))
	return block, nil
}

// NumBlocks returns the file length in blocks. A file that is not on disk
// yet has zero blocks.
func (dm *FileDiskManager) NumBlocks(fileName string) (uint64, error) {
	dm.mu.Lock()
	h, ok := dm.files[fileName]
	dm.mu.Unlock()

	if ok {
		h.mu.Lock()
		defer h.mu.Unlock()
		fi, err := h.file.Stat()
		if err != nil {
			return 0, fmt.Errorf("%w: stating file %s: %v", ErrIO, fileName, err)
		}
		return uint64(fi.Size()) / pagemanager.PageSize, nil
	}

	fi, err := os.Stat(filepath.Join(dm.cfg.BaseDir, fileName))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: stating file %s: %v", ErrIO, fileName, err)
	}
	return uint64(fi.Size()) / pagemanager.PageSize, nil
}

// Sync flushes the file's blocks to stable storage. No-op when the file was
// never opened, since nothing was written through this manager.
func (dm *FileDiskManager) Sync(fileName string) error {
	dm.mu.Lock()
	h, ok := dm.files[fileName]
	dm.mu.Unlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing file %s: %v", ErrIO, fileName, err)
	}
	return nil
}

// CloseFile releases the handle for fileName. A later access reopens it.
func (dm *FileDiskManager) CloseFile(fileName string) error {
	dm.mu.Lock()
	h, ok := dm.files[fileName]
	if ok {
		delete(dm.files, fileName)
	}
	dm.mu.Unlock()
	if !ok {
		return nil
	}

	// Taking the handle mutex serializes close with any in-flight operation
	// on the same file.
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("%w: closing file %s: %v", ErrIO, fileName, err)
	}
	dm.logger.Debug("closed block file", zap.String("file", fileName))
	return nil
}

// Close releases every open handle and marks the manager closed.
func (dm *FileDiskManager) Close() error {
	dm.mu.Lock()
	files := dm.files
	dm.files = make(map[string]*fileHandle)
	dm.closed = true
	dm.mu.Unlock()

	var firstErr error
	for name, h := range files {
		h.mu.Lock()
		err := h.file.Close()
		h.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: closing file %s: %v", ErrIO, name, err)
		}
	}
	return firstErr
}
