package index

import (
	"sync"
	"sync/atomic"

	"github.com/marcbinz/hlkv/hlog"
)

// tagOf extracts the 14-bit quick-reject tag from a 64-bit key hash. It
// is always the top 14 bits, independent of the table's current size, so
// growing the table never needs to recompute stored tags.
func tagOf(hash uint64) uint16 { return uint16(hash >> (64 - entryTagBits)) }

// bucketIndexFor maps a hash to a bucket index for a table of 2^bits
// buckets, using the low `bits` bits of the hash.
func bucketIndexFor(hash uint64, bits uint) uint64 {
	if bits == 0 {
		return 0
	}
	return hash & (uint64(1)<<bits - 1)
}

type tableState struct {
	buckets []bucket
	bits    uint
}

// Index is the hash index described in spec.md §4.4. It maps a key's
// 64-bit hash to the log address of the most recent record for that key.
// Collisions within a bucket - either a real hash collision, or two
// different keys sharing the same 14-bit tag - are resolved by the
// caller: Index hands back every same-tag candidate address for the
// caller to dereference and compare full keys against, since Index
// itself never looks at key bytes.
type Index struct {
	mu    sync.RWMutex // read during Lookup/TryInsert/TryUpdate, write during Grow
	state atomic.Pointer[tableState]
}

// New creates an index with 2^initialBits buckets.
func New(initialBits uint) *Index {
	idx := &Index{}
	idx.state.Store(&tableState{
		buckets: make([]bucket, uint64(1)<<initialBits),
		bits:    initialBits,
	})
	return idx
}

func (idx *Index) bucketFor(st *tableState, hash uint64) *bucket {
	return &st.buckets[bucketIndexFor(hash, st.bits)]
}

// Lookup scans every entry sharing hash's tag in hash's bucket chain,
// calling matches(addr) for each until it returns true, and reports the
// matching address. matches is expected to dereference addr in the log
// and compare the stored key for full equality.
func (idx *Index) Lookup(hash uint64, matches func(hlog.Address) bool) (hlog.Address, bool) {
	idx.mu.RLock()
	st := idx.state.Load()
	idx.mu.RUnlock()

	tag := tagOf(hash)
	for cur := idx.bucketFor(st, hash); cur != nil; cur = cur.overflow.Load() {
		for i := range cur.entries {
			e := cur.entries[i].load()
			if e.isEmpty() || e.tag() != tag {
				continue
			}
			if matches(e.address()) {
				return e.address(), true
			}
		}
	}
	return hlog.Null, false
}

// TryUpdate atomically advances an existing entry's address from oldAddr
// to newAddr. It returns false if the entry no longer holds oldAddr (some
// other update won the race); the caller must Lookup again and retry.
func (idx *Index) TryUpdate(hash uint64, matches func(hlog.Address) bool, oldAddr, newAddr hlog.Address) bool {
	idx.mu.RLock()
	st := idx.state.Load()
	idx.mu.RUnlock()

	tag := tagOf(hash)
	for cur := idx.bucketFor(st, hash); cur != nil; cur = cur.overflow.Load() {
		for i := range cur.entries {
			slot := &cur.entries[i]
			e := slot.load()
			if e.isEmpty() || e.tag() != tag || e.address() != oldAddr {
				continue
			}
			if !matches(oldAddr) {
				continue
			}
			return slot.cas(e, e.withAddress(newAddr))
		}
	}
	return false
}

// TryInsert claims an empty slot for a brand new key and installs
// newAddr. After claiming the slot it re-scans the bucket chain once
// more for a concurrently-inserted entry for the same key; if one turns
// up, the claim is rolled back and the conflicting address is returned so
// the caller can fall back to an update instead of a fresh insert.
func (idx *Index) TryInsert(hash uint64, matches func(hlog.Address) bool, newAddr hlog.Address) (conflict hlog.Address, inserted bool) {
	idx.mu.RLock()
	st := idx.state.Load()
	idx.mu.RUnlock()

	tag := tagOf(hash)
	head := idx.bucketFor(st, hash)
	target := head.tailWithRoom()

	var slot *atomicEntry
	for i := range target.entries {
		if target.entries[i].load().isEmpty() {
			slot = &target.entries[i]
			break
		}
	}
	if slot == nil {
		// lost the race for the last open slot in this tail; caller retries.
		return hlog.Null, false
	}
	e := newEntry(tag, newAddr, false)
	if !slot.cas(entryBits(0), e) {
		return hlog.Null, false
	}

	for cur := head; cur != nil; cur = cur.overflow.Load() {
		for i := range cur.entries {
			other := cur.entries[i].load()
			if other.isEmpty() || other == e || other.tag() != tag {
				continue
			}
			if matches(other.address()) {
				slot.store(entryBits(0))
				return other.address(), false
			}
		}
	}
	return hlog.Null, true
}

// Grow doubles the number of buckets. rehash must return the 64-bit hash
// of the key stored at addr, which the index itself never computes since
// it has no notion of a key type; the engine provides it by dereferencing
// the record in the log. Grow holds the index's write lock for its
// duration, so Lookup/TryInsert/TryUpdate block until it completes - this
// is the cooperative-growth boundary from spec.md §4.4, coarser than a
// lock-free RCU swap but sufficient since growth is rare and the backing
// array for Go, unlike a manually-managed C++ heap, needs no epoch-gated
// reclamation to be memory-safe.
func (idx *Index) Grow(rehash func(hlog.Address) uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	old := idx.state.Load()
	newBits := old.bits + 1
	newBuckets := make([]bucket, uint64(len(old.buckets))*2)

	for bi := range old.buckets {
		for cur := &old.buckets[bi]; cur != nil; cur = cur.overflow.Load() {
			for i := range cur.entries {
				e := cur.entries[i].load()
				if e.isEmpty() {
					continue
				}
				h := rehash(e.address())
				target := (&newBuckets[bucketIndexFor(h, newBits)]).tailWithRoom()
				for j := range target.entries {
					if target.entries[j].load().isEmpty() {
						target.entries[j].store(e)
						break
					}
				}
			}
		}
	}

	idx.state.Store(&tableState{buckets: newBuckets, bits: newBits})
}

// NumBuckets reports the current table size, mostly for tests and
// metrics.
func (idx *Index) NumBuckets() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return uint64(len(idx.state.Load().buckets))
}

// Bits reports the current table size as the power-of-two exponent New
// and Rebuild take, so a checkpoint of this index can recreate a table
// of the same size rather than always restarting at the engine's
// initial HashBucketCount.
func (idx *Index) Bits() uint {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.state.Load().bits
}
