package pagemanager

import "fmt"

// BlockID identifies a fixed-size block of a named file: the byte range
// [Offset, Offset+PageSize) of FileName. It is a pure value; two BlockIDs are
// the same block iff both fields are equal, so the zero-value struct is
// usable as a map key.
type BlockID struct {
	FileName string
	Offset   uint64
}

// NewBlockID builds the BlockID for the block at the given byte offset.
func NewBlockID(fileName string, offset uint64) BlockID {
	return BlockID{FileName: fileName, Offset: offset}
}

// BlockIDForIndex builds the BlockID for the n-th block of a file.
func BlockIDForIndex(fileName string, index uint64) BlockID {
	return BlockID{FileName: fileName, Offset: index * PageSize}
}

// IsValid reports whether the BlockID names a real block: a non-empty file
// name and an offset aligned to the page size.
func (b BlockID) IsValid() bool {
	return b.FileName != "" && b.Offset%PageSize == 0
}

// Index returns the position of the block within its file.
func (b BlockID) Index() uint64 {
	return b.Offset / PageSize
}

func (b BlockID) Equals(other BlockID) bool {
	return b == other
}

func (b BlockID) String() string {
	return fmt.Sprintf("[file %s, offset %d]", b.FileName, b.Offset)
}
