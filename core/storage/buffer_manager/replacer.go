package buffermanager

import "fmt"

// FrameID indexes a frame within the buffer pool's page array.
type FrameID int32

// Replacer is the evictable-frame selector the pool delegates its eviction
// policy to. The pool reports pin transitions; the replacer only ever
// nominates frames whose pin count is zero.
//
// Protocol: Pin is called whenever a frame's page gets pinned (on load and on
// every cache hit); Unpin is called when a frame's pin count returns to zero;
// Victim nominates the policy's next eviction candidate, and Remove is called
// once the pool has actually reclaimed the frame. A nomination the pool
// abandons (the victim's flush failed) needs no call at all: the frame keeps
// its position and stays evictable.
type Replacer interface {
	// Victim picks an evictable frame without altering the replacer's
	// bookkeeping. ok is false when no frame is evictable.
	Victim() (frameID FrameID, ok bool)

	// Pin marks the frame ineligible for eviction.
	Pin(frameID FrameID)

	// Unpin marks the frame eligible for eviction again.
	Unpin(frameID FrameID)

	// Remove forgets the frame entirely; its next Pin is a fresh arrival.
	Remove(frameID FrameID)

	// Size returns the number of currently evictable frames.
	Size() int
}

// Policy selects one of the built-in replacement policies.
type Policy string

const (
	PolicyLRU  Policy = "lru"
	PolicyFIFO Policy = "fifo"
)

// NewReplacer builds the replacer for a policy name.
func NewReplacer(policy Policy) (Replacer, error) {
	switch policy {
	case PolicyLRU:
		return NewLRUReplacer(), nil
	case PolicyFIFO:
		return NewFIFOReplacer(), nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", policy)
	}
}
