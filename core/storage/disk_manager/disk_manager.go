package diskmanager

import (
	pagemanager "github.com/strata-db/strata/core/storage/page_manager"
)

// DiskManager translates block-granularity requests into byte-range file I/O.
// Implementations own the file handles and must be safe for concurrent use;
// operations on the same file serialize, operations on distinct files may
// proceed in parallel. I/O errors are never retried here — only the caller
// knows whether a cached page can be discarded safely.
type DiskManager interface {
	// ReadBlock reads exactly PageSize bytes of the block into data. The
	// portion of the block past end-of-file, if any, is zero-filled.
	ReadBlock(block pagemanager.BlockID, data []byte) error

	// WriteBlock overwrites the block in place with exactly PageSize bytes,
	// creating the file if it does not exist yet.
	WriteBlock(block pagemanager.BlockID, data []byte) error

	// AllocateBlock extends the file by one zeroed block and returns its ID.
	AllocateBlock(fileName string) (pagemanager.BlockID, error)

	// NumBlocks returns the number of blocks currently backed by the file.
	NumBlocks(fileName string) (uint64, error)

	// Sync flushes the file's written blocks to stable storage.
	Sync(fileName string) error

	// CloseFile releases the handle for a file name; a later access reopens
	// it. No-op if the file is not open.
	CloseFile(fileName string) error

	// Close releases every open handle.
	Close() error
}
