package hlog

import "sync/atomic"

// atomicAddress is a monotonically non-decreasing Address, per the
// invariant in spec.md §3 ("All advances are monotonic; they occur only
// while an epoch-protected action is scheduled.").
type atomicAddress struct {
	v atomic.Uint64
}

func (a *atomicAddress) Load() Address { return Address(a.v.Load()) }

func (a *atomicAddress) Store(addr Address) { a.v.Store(uint64(addr)) }

// AdvanceTo moves the value forward to addr, ignoring the call if addr is
// not greater than the current value.
func (a *atomicAddress) AdvanceTo(addr Address) {
	for {
		cur := a.v.Load()
		if uint64(addr) <= cur {
			return
		}
		if a.v.CompareAndSwap(cur, uint64(addr)) {
			return
		}
	}
}

// Add performs size-byte fetch-and-add, returning the address that
// existed immediately before the add (the start of the newly reserved
// range).
func (a *atomicAddress) Add(size uint64) Address {
	for {
		cur := a.v.Load()
		next := cur + size
		if a.v.CompareAndSwap(cur, next) {
			return Address(cur)
		}
	}
}

// CAS is the raw compare-and-swap escape hatch used by allocate, which
// needs to decide the next value as a function of whether the request
// crosses a page boundary rather than always adding a fixed size.
func (a *atomicAddress) CAS(old, new Address) bool {
	return a.v.CompareAndSwap(uint64(old), uint64(new))
}
