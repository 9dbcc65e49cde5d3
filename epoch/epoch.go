// Package epoch implements the epoch-based safe memory reclamation scheme
// that protects every address-based lookup in hlkv. A goroutine that holds
// a Guard may freely dereference any hlog.Address that was live when the
// guard's local epoch was last published; the Table guarantees no other
// goroutine can reclaim that memory until the guard calls Refresh or
// Release.
//
// This is the C1 component of the engine: it schedules "drain actions" -
// page eviction, hash-index grow completion, checkpoint phase transitions
// - to run exactly once, on whichever goroutine first observes that every
// active guard has refreshed past a target epoch.
package epoch

import (
	"sync"
	"sync/atomic"
)

const unprotected = ^uint64(0)

const defaultTableSize = 128

// slot is one per-thread entry. Slots are reused across session lifetimes;
// a slot is "in use" while used != 0.
type slot struct {
	used       atomic.Uint32
	localEpoch atomic.Uint64
	// pad to keep each slot on its own cache line; false sharing between
	// concurrently-refreshing sessions would otherwise dominate latency.
	_ [40]byte
}

// Guard is a session's claim on one Table slot. It must be Released when
// the owning session closes.
type Guard struct {
	table *Table
	idx   int
}

// Table is the per-engine epoch manager described in spec.md §4.1.
type Table struct {
	currentEpoch atomic.Uint64

	mu    sync.Mutex // guards growth of slots and the drain heap
	slots []*slot
	drain *drainHeap
}

// New creates a new epoch table. The global epoch starts at 1 so that 0
// can be used by callers as an "epoch never observed" sentinel.
func New() *Table {
	t := &Table{drain: newDrainHeap()}
	t.currentEpoch.Store(1)
	t.slots = make([]*slot, defaultTableSize)
	for i := range t.slots {
		t.slots[i] = &slot{}
	}
	return t
}

// Acquire reserves a free slot for a new session and returns a Guard. The
// guard starts unprotected; call Protect before dereferencing any address.
func (t *Table) Acquire() *Guard {
	for {
		t.mu.Lock()
		for i, s := range t.slots {
			if s.used.CompareAndSwap(0, 1) {
				s.localEpoch.Store(unprotected)
				t.mu.Unlock()
				return &Guard{table: t, idx: i}
			}
		}
		// grow: double the slot table under the lock
		grown := make([]*slot, len(t.slots)*2)
		copy(grown, t.slots)
		for i := len(t.slots); i < len(grown); i++ {
			grown[i] = &slot{}
		}
		t.slots = grown
		t.mu.Unlock()
	}
}

// Release clears the guard's protection, frees its slot, and runs any
// drain actions that have become safe as a result. The guard may still be
// protected when Release is called.
func (g *Guard) Release() {
	s := g.table.slots[g.idx]
	s.localEpoch.Store(unprotected)
	s.used.Store(0)
	g.table.tryDrain()
}

// Protect publishes this guard's local epoch as the current global epoch.
// Any address considered live at this instant remains valid until the
// next Refresh, Unprotect, or Release.
func (g *Guard) Protect() {
	s := g.table.slots[g.idx]
	s.localEpoch.Store(g.table.currentEpoch.Load())
}

// Unprotect publishes this guard's local epoch as "infinity", meaning this
// thread makes no claim on any epoch and does not block reclamation.
func (g *Guard) Unprotect() {
	g.table.slots[g.idx].localEpoch.Store(unprotected)
	g.table.tryDrain()
}

// Refresh re-publishes the current global epoch and then runs any drain
// actions that have become safe as a result.
func (g *Guard) Refresh() {
	s := g.table.slots[g.idx]
	s.localEpoch.Store(g.table.currentEpoch.Load())
	g.table.tryDrain()
}

// CurrentEpoch returns the table's current global epoch.
func (t *Table) CurrentEpoch() uint64 { return t.currentEpoch.Load() }

// BumpAndWait atomically advances the global epoch and schedules action to
// run exactly once, on whichever goroutine (this one, or another one
// calling Refresh/Release/BumpAndWait later) first observes that every
// active guard's local epoch is at or beyond the new epoch. It returns the
// drain id, which can be passed to Cancel while the action is still
// pending.
//
// BumpAndWait does not block: "wait" describes what the *action* waits
// for, not the calling goroutine.
func (t *Table) BumpAndWait(action func()) uint64 {
	t.mu.Lock()
	target := t.currentEpoch.Add(1)
	id := t.drain.schedule(target, action)
	t.mu.Unlock()

	t.tryDrain()
	return id
}

// Cancel removes a still-pending drain action scheduled by BumpAndWait. It
// returns false if the action already ran.
func (t *Table) Cancel(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drain.cancel(id)
}

// safeEpochLocked returns the minimum local epoch across every in-use
// slot, or unprotected if no slot is in use. The caller must hold t.mu
// (only to snapshot the, possibly still-growing, slots slice safely).
func (t *Table) safeEpochLocked() uint64 {
	min := unprotected
	for _, s := range t.slots {
		if s.used.Load() == 0 {
			continue
		}
		le := s.localEpoch.Load()
		if le < min {
			min = le
		}
	}
	return min
}

// tryDrain runs every drain action whose target epoch is at or below the
// current safe epoch. It may be called from any goroutine; a caller that
// loses the race for the drain lock returns immediately. Each action is
// popped under the lock, so it runs exactly once, but the lock is
// released while the action runs, so another goroutine may run other
// ready actions at the same time.
func (t *Table) tryDrain() {
	if !t.mu.TryLock() {
		return
	}
	defer t.mu.Unlock()

	for {
		safe := t.safeEpochLocked()
		item, ok := t.drain.peek()
		if !ok || item.targetEpoch > safe {
			return
		}
		ready := t.drain.pop()
		action := ready.action
		// run the action without holding the lock so it may itself call
		// back into BumpAndWait/Refresh without deadlocking.
		t.mu.Unlock()
		action()
		t.mu.Lock()
	}
}
