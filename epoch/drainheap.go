package epoch

import "container/heap"

// drainItem is one entry in the drain-action queue: an action that must
// run once every active session has refreshed past targetEpoch.
type drainItem struct {
	id          uint64
	targetEpoch uint64
	action      func()
	index       int // maintained by container/heap
}

// drainHeap is a priority queue of pending drain actions ordered by
// targetEpoch (lowest first), with O(1) lookup/removal by drain id.
//
// A binary heap plus a side map keyed by drain id, prioritized by
// targetEpoch rather than a timestamp: the keyed lookup lets Table.Cancel
// drop a still-pending action.
type drainHeap struct {
	items  []*drainItem
	byID   map[uint64]*drainItem
	nextID uint64
}

func newDrainHeap() *drainHeap {
	return &drainHeap{byID: make(map[uint64]*drainItem)}
}

func (h *drainHeap) Len() int { return len(h.items) }

func (h *drainHeap) Less(i, j int) bool {
	return h.items[i].targetEpoch < h.items[j].targetEpoch
}

func (h *drainHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *drainHeap) Push(x interface{}) {
	item := x.(*drainItem)
	item.index = len(h.items)
	h.items = append(h.items, item)
	h.byID[item.id] = item
}

func (h *drainHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	h.items = old[:n-1]
	delete(h.byID, item.id)
	return item
}

// schedule adds an action and returns its drain id.
func (h *drainHeap) schedule(targetEpoch uint64, action func()) uint64 {
	h.nextID++
	id := h.nextID
	heap.Push(h, &drainItem{id: id, targetEpoch: targetEpoch, action: action})
	return id
}

// cancel removes a still-pending action by id. Returns false if it already ran.
func (h *drainHeap) cancel(id uint64) bool {
	item, ok := h.byID[id]
	if !ok {
		return false
	}
	heap.Remove(h, item.index)
	return true
}

// peek returns the lowest-targetEpoch item without removing it.
func (h *drainHeap) peek() (*drainItem, bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

// pop removes and returns the lowest-targetEpoch item.
func (h *drainHeap) pop() *drainItem {
	return heap.Pop(h).(*drainItem)
}
