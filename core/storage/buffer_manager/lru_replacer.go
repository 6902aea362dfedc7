package buffermanager

import (
	"container/list"
	"sync"
)

// LRUReplacer evicts the frame least recently unpinned. Recency is recorded
// at the moment a frame's pin count returns to zero; a pinned frame is not
// tracked at all, so it can never be nominated.
type LRUReplacer struct {
	mu sync.Mutex
	// order holds evictable frames, most recently unpinned at the front.
	order    *list.List
	elements map[FrameID]*list.Element
}

var _ Replacer = (*LRUReplacer)(nil)

func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{
		order:    list.New(),
		elements: make(map[FrameID]*list.Element),
	}
}

// Victim returns the least recently unpinned frame, leaving it in place
// until the pool confirms the eviction with Remove.
func (r *LRUReplacer) Victim() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem := r.order.Back()
	if elem == nil {
		return 0, false
	}
	return elem.Value.(FrameID), true
}

// Pin removes the frame from the evictable set.
func (r *LRUReplacer) Pin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(frameID)
}

// Remove forgets the frame.
func (r *LRUReplacer) Remove(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(frameID)
}

func (r *LRUReplacer) remove(frameID FrameID) {
	if elem, ok := r.elements[frameID]; ok {
		r.order.Remove(elem)
		delete(r.elements, frameID)
	}
}

// Unpin records the frame as the most recently released.
func (r *LRUReplacer) Unpin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.elements[frameID]; ok {
		return
	}
	r.elements[frameID] = r.order.PushFront(frameID)
}

func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}
