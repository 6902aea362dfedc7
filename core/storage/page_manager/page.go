package pagemanager

import (
	"sync"
)

// --- Page Management ---

const (
	// PageSize is the number of bytes moved between disk and memory per I/O.
	// It is a build-time constant; files written with a different page size
	// are not readable.
	PageSize = 4096

	// ChecksumSize is the width of the integrity digest kept in the page tail.
	ChecksumSize = 4

	// PayloadSize is the number of bytes per page available to callers.
	PayloadSize = PageSize - ChecksumSize
)

// Page is an in-memory copy of one disk block (a buffer pool frame).
// Its buffer is allocated once and reused across bindings; Reset prepares the
// frame for the next block.
type Page struct {
	block    BlockID
	bound    bool
	data     []byte
	pinCount uint32
	isDirty  bool

	// latch protects the in-memory contents of this specific page. The
	// buffer pool only arbitrates structural state (bindings, pins); callers
	// mutating the payload serialize through the latch.
	latch sync.RWMutex
}

// NewPage returns an unbound frame with a zeroed PageSize buffer.
func NewPage() *Page {
	return &Page{data: make([]byte, PageSize)}
}

// Reset unbinds the frame and clears all metadata and data. Old bytes are
// zeroed so a reused frame can never leak a previous block's content.
func (p *Page) Reset() {
	p.block = BlockID{}
	p.bound = false
	p.pinCount = 0
	p.isDirty = false
	for i := range p.data {
		p.data[i] = 0
	}
}

// Data returns the full page image, checksum tail included. The slice aliases
// the frame buffer; it is only valid while the caller holds a pin.
func (p *Page) Data() []byte { return p.data }

// Payload returns the caller-writable region of the page.
func (p *Page) Payload() []byte { return p.data[:PayloadSize] }

// BlockID returns the block this frame currently represents. Meaningful only
// when IsBound reports true.
func (p *Page) BlockID() BlockID { return p.block }

// IsBound reports whether the frame holds valid data for some block.
func (p *Page) IsBound() bool { return p.bound }

// Bind marks the frame as holding the given block's data.
func (p *Page) Bind(block BlockID) {
	p.block = block
	p.bound = true
}

func (p *Page) IsDirty() bool        { return p.isDirty }
func (p *Page) SetDirty(dirty bool)  { p.isDirty = dirty }
func (p *Page) PinCount() uint32     { return p.pinCount }
func (p *Page) SetPinCount(n uint32) { p.pinCount = n }

func (p *Page) Pin() { p.pinCount++ }

func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}

// --- Latch Methods ---

// RLock acquires a read (shared) latch on the page contents.
func (p *Page) RLock() { p.latch.RLock() }

// RUnlock releases a read (shared) latch on the page contents.
func (p *Page) RUnlock() { p.latch.RUnlock() }

// Lock acquires a write (exclusive) latch on the page contents.
func (p *Page) Lock() { p.latch.Lock() }

// TryLock attempts the write latch without blocking.
func (p *Page) TryLock() bool { return p.latch.TryLock() }

// Unlock releases the write latch.
func (p *Page) Unlock() { p.latch.Unlock() }
