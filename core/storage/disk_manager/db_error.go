package diskmanager

import "errors"

// --- Error Definitions ---

var (
	ErrIO               = errors.New("i/o error")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidBlock     = errors.New("invalid block id")
	ErrClosed           = errors.New("disk manager is closed")

	ErrChecksumMismatch    = errors.New("page checksum mismatch, data corruption suspected")
	ErrBufferPoolExhausted = errors.New("buffer pool is full and no pages can be evicted")
	ErrPageNotResident     = errors.New("block not resident in buffer pool")
	ErrPageNotPinned       = errors.New("page pin count is already zero")
)
