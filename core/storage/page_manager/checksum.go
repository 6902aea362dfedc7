package pagemanager

import (
	"encoding/binary"
	"hash/crc32"
)

// Pages carry a CRC32 (IEEE) digest of the payload region in their last
// ChecksumSize bytes, little-endian. The digest is stamped on every write of
// the page to disk and recomputed on every load. A stored value of zero means
// the block was never written through the pool (for example a zero-filled
// block read past end-of-file) and is accepted as unstamped.

// StampChecksum computes the payload digest and stores it in the page tail.
// data must be a full PageSize image.
func StampChecksum(data []byte) {
	sum := crc32.ChecksumIEEE(data[:PayloadSize])
	binary.LittleEndian.PutUint32(data[PayloadSize:PageSize], sum)
}

// ReadChecksums returns the digest stored in the page tail and the digest
// recomputed over the payload.
func ReadChecksums(data []byte) (stored, computed uint32) {
	stored = binary.LittleEndian.Uint32(data[PayloadSize:PageSize])
	computed = crc32.ChecksumIEEE(data[:PayloadSize])
	return stored, computed
}

// VerifyChecksum reports whether a page image passes integrity checking:
// either the stored digest matches the recomputed one, or the page was never
// stamped.
func VerifyChecksum(data []byte) bool {
	stored, computed := ReadChecksums(data)
	return stored == 0 || stored == computed
}
