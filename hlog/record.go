package hlog

import (
	"sync/atomic"
	"unsafe"
)

// RecordHeader is the 64-bit physical record header described in
// spec.md §3:
//
//	{ invalid: 1, tombstone: 1, in_new_version: 1, previous_address: 48, reserved: 13 }
//
// The first reserved bit (bit 60) marks the end-of-page sentinel. In a
// record, it is held in an AtomicHeader, whose CAS keeps flag bits and the
// previous-address back-pointer consistent under concurrent access.
type RecordHeader uint64

const (
	headerInvalidBit      = 1 << 63
	headerTombstoneBit    = 1 << 62
	headerInNewVersionBit = 1 << 61
	headerEndOfPageBit    = 1 << 60
	headerPrevAddressMask = addressMask // low 48 bits
)

// NewRecordHeader builds a header for a freshly appended record.
func NewRecordHeader(previous Address, tombstone bool) RecordHeader {
	h := RecordHeader(uint64(previous) & headerPrevAddressMask)
	if tombstone {
		h |= headerTombstoneBit
	}
	return h
}

// NewEndOfPageHeader builds the sentinel header hlog.Log.stampPadding
// writes into a page's wasted tail span, when a record would otherwise
// have straddled a page boundary. It carries only the invalid and
// end-of-page bits - no previous-address, no size fields follow it - so
// it fits in as little as 8 bytes, unlike a real record which always
// needs at least a further 8-byte size pair.
func NewEndOfPageHeader() RecordHeader {
	return RecordHeader(headerInvalidBit | headerEndOfPageBit)
}

// Invalid reports whether the invalid bit is set.
func (h RecordHeader) Invalid() bool { return h&headerInvalidBit != 0 }

// EndOfPage reports whether h is the sentinel stampPadding writes into a
// page's wasted tail span. A walker seeing this skips straight to the
// start of the next page rather than reading any size field after it.
func (h RecordHeader) EndOfPage() bool { return h&headerEndOfPageBit != 0 }

// Tombstone reports whether this record logically deletes its key.
func (h RecordHeader) Tombstone() bool { return h&headerTombstoneBit != 0 }

// InNewVersion reports whether this record was appended after the most
// recent checkpoint's InProgress transition (spec.md §4.7 phase 2).
func (h RecordHeader) InNewVersion() bool { return h&headerInNewVersionBit != 0 }

// PreviousAddress returns the back-pointer to the prior record for the
// same key, or Null if this is the first record for the key.
func (h RecordHeader) PreviousAddress() Address {
	return Address(uint64(h) & headerPrevAddressMask)
}

// WithInvalid returns a copy of h with the invalid bit set or cleared.
func (h RecordHeader) WithInvalid(v bool) RecordHeader {
	if v {
		return h | headerInvalidBit
	}
	return h &^ headerInvalidBit
}

// WithTombstone returns a copy of h with the tombstone bit set or cleared.
func (h RecordHeader) WithTombstone(v bool) RecordHeader {
	if v {
		return h | headerTombstoneBit
	}
	return h &^ headerTombstoneBit
}

// WithPreviousAddress returns a copy of h pointing at a different prior
// version, preserving every flag bit.
func (h RecordHeader) WithPreviousAddress(addr Address) RecordHeader {
	cleared := uint64(h) &^ headerPrevAddressMask
	return RecordHeader(cleared | (uint64(addr) & headerPrevAddressMask))
}

// WithInNewVersion returns a copy of h with the in-new-version bit set.
func (h RecordHeader) WithInNewVersion(v bool) RecordHeader {
	if v {
		return h | headerInNewVersionBit
	}
	return h &^ headerInNewVersionBit
}

// AtomicHeader is the in-record storage for a RecordHeader, mutated by
// compare-and-swap once the record may be visible to other goroutines.
type AtomicHeader struct {
	v atomic.Uint64
}

// Load reads the current header.
func (a *AtomicHeader) Load() RecordHeader { return RecordHeader(a.v.Load()) }

// Store installs a header unconditionally. Used while a record is first
// written to the log, including the engine's in_new_version marking,
// before it is linked into the hash index (so no concurrent reader can
// observe the partially-written state), and for end-of-page padding.
func (a *AtomicHeader) Store(h RecordHeader) { a.v.Store(uint64(h)) }

// CAS atomically swaps the header from old to new and reports success.
func (a *AtomicHeader) CAS(old, new RecordHeader) bool {
	return a.v.CompareAndSwap(uint64(old), uint64(new))
}

// --------------------------------------------------------------------------
// Generation lock (§4.3): the first 8 bytes of any in-place-mutable value.
// --------------------------------------------------------------------------

// LockResult is the outcome of TryLockGeneration.
type LockResult int

const (
	LockAcquired LockResult = iota
	LockReplaced
	LockBusy
)

const (
	genLockedBit   = 1 << 63
	genReplacedBit = 1 << 62
	genNumberMask  = (1 << 62) - 1
)

// GenLock is the 64-bit generation lock word described in spec.md §4.3:
// { gen_number: 62, locked: 1, replaced: 1 }. It lives as the first word
// of any value type that implements kv.InPlaceValue.
type GenLock struct {
	v atomic.Uint64
}

// TryLockGeneration attempts to acquire the lock for an in-place update.
// It mirrors the protocol in spec.md §4.3: a snapshot with replaced=1
// means some other writer already grew this slot out from under the
// caller and the whole operation must retry from the index lookup.
func (g *GenLock) TryLockGeneration() LockResult {
	for {
		snap := g.v.Load()
		if snap&genReplacedBit != 0 {
			return LockReplaced
		}
		if snap&genLockedBit != 0 {
			return LockBusy
		}
		if g.v.CompareAndSwap(snap, snap|genLockedBit) {
			return LockAcquired
		}
	}
}

// UnlockGeneration releases a lock acquired by TryLockGeneration. grew
// indicates whether the value could not be updated in place (it had to
// fall through to a copy-on-grow append); when true the replaced bit is
// set so concurrent readers of the old generation retry against the new
// record. Either way, the generation number strictly increases so readers
// using the protocol in spec.md §4.3 can detect torn reads.
func (g *GenLock) UnlockGeneration(grew bool) {
	for {
		snap := g.v.Load()
		gen := (snap & genNumberMask) + 1
		next := gen &^ genLockedBit // locked bit cleared
		if grew {
			next |= genReplacedBit
		} else {
			next |= snap & genReplacedBit
		}
		if g.v.CompareAndSwap(snap, next) {
			return
		}
	}
}

// Snapshot is used by the lock-free reader protocol (spec.md §4.3): read
// the lock word, copy the value, read it again, and retry if the
// generation number changed (a torn read).
func (g *GenLock) Snapshot() uint64 { return g.v.Load() }

// GenNumber extracts the generation counter from a snapshot.
func GenNumber(snapshot uint64) uint64 { return snapshot & genNumberMask }

// HeaderAt reinterprets the first 8 bytes of raw (a slice returned by
// Log.Allocate or Log.Get) as an *AtomicHeader, so the engine can CAS a
// record's header directly inside the log's page buffer instead of
// copying it out and back. raw must be at least 8 bytes and must come
// from a make([]byte, ...)-backed page buffer, which Go's allocator
// aligns suitably for this on every platform hlkv targets.
func HeaderAt(raw []byte) *AtomicHeader {
	return (*AtomicHeader)(unsafe.Pointer(&raw[0]))
}

// GenLockAt reinterprets the first 8 bytes of a value's encoded region as
// a *GenLock, the same way HeaderAt does for record headers.
func GenLockAt(raw []byte) *GenLock {
	return (*GenLock)(unsafe.Pointer(&raw[0]))
}
