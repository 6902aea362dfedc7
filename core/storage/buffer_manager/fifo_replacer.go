package buffermanager

import (
	"container/list"
	"sync"
)

// FIFOReplacer evicts the frame whose current block has been resident
// longest. Arrival order is recorded when a frame is first pinned for a block
// and kept across later pin/unpin cycles; only eviction (Remove) discards the
// position, so a reloaded frame re-enters at the back.
type FIFOReplacer struct {
	mu sync.Mutex
	// arrival holds every frame the replacer has seen, oldest at the front,
	// pinned or not. Pinned frames are skipped during victim scans.
	arrival   *list.List
	elements  map[FrameID]*list.Element
	evictable map[FrameID]bool
}

var _ Replacer = (*FIFOReplacer)(nil)

func NewFIFOReplacer() *FIFOReplacer {
	return &FIFOReplacer{
		arrival:   list.New(),
		elements:  make(map[FrameID]*list.Element),
		evictable: make(map[FrameID]bool),
	}
}

// Victim returns the oldest-arrival unpinned frame, leaving its position
// intact until the pool confirms the eviction with Remove.
func (r *FIFOReplacer) Victim() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for elem := r.arrival.Front(); elem != nil; elem = elem.Next() {
		frameID := elem.Value.(FrameID)
		if r.evictable[frameID] {
			return frameID, true
		}
	}
	return 0, false
}

// Remove forgets the frame and its arrival position.
func (r *FIFOReplacer) Remove(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.elements[frameID]; ok {
		r.arrival.Remove(elem)
		delete(r.elements, frameID)
		delete(r.evictable, frameID)
	}
}

// Pin marks the frame ineligible. The first Pin after a load records the
// frame's arrival; re-pinning an already-seen frame keeps its position.
func (r *FIFOReplacer) Pin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.elements[frameID]; !ok {
		r.elements[frameID] = r.arrival.PushBack(frameID)
	}
	r.evictable[frameID] = false
}

// Unpin marks the frame eligible without touching its arrival position.
func (r *FIFOReplacer) Unpin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.elements[frameID]; !ok {
		r.elements[frameID] = r.arrival.PushBack(frameID)
	}
	r.evictable[frameID] = true
}

func (r *FIFOReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ok := range r.evictable {
		if ok {
			n++
		}
	}
	return n
}
