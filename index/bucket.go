// Package index implements the hash index described in spec.md §4.4: a
// flat array of fixed-size buckets, each holding a handful of tagged
// entries pointing into the hybrid log, chained through overflow buckets
// when a bucket fills. Growth doubles the table on the calling goroutine
// under the index's write lock; other goroutines do not help rehash.
//
// A key's hash picks one of 2^bits buckets within a single flat array,
// the same "hash picks a fixed-size partition" shape as a sharded map,
// except partitions are fixed-size address-tagged buckets rather than
// independent maps, and growth doubles the table under a write lock
// instead of fixing the partition count at startup.
package index

import (
	"sync/atomic"

	"github.com/marcbinz/hlkv/hlog"
)

// entryBits is the 64-bit packed bucket entry: { tag: 14, address: 48,
// tentative: 1, unused: 1 }, matching spec.md §4.4's BucketEntry layout.
type entryBits uint64

const (
	entryTagBits     = 14
	entryAddressBits = 48
	entryTagShift    = 64 - entryTagBits // = 50
	entryAddressMask = uint64(1)<<entryAddressBits - 1
	entryAddrShift   = 2
	entryTentativeBit = uint64(1) << 1
)

// tagMask isolates the 14-bit tag once it has already been right-shifted
// into the low bits.
const tagMask = uint64(1)<<entryTagBits - 1

func newEntry(tag uint16, addr hlog.Address, tentative bool) entryBits {
	v := (uint64(tag) & tagMask) << entryTagShift
	v |= (uint64(addr) & entryAddressMask) << entryAddrShift
	if tentative {
		v |= entryTentativeBit
	}
	return entryBits(v)
}

func (e entryBits) isEmpty() bool { return e == 0 }

func (e entryBits) tag() uint16 {
	return uint16((uint64(e) >> entryTagShift) & tagMask)
}

func (e entryBits) address() hlog.Address {
	return hlog.Address((uint64(e) >> entryAddrShift) & entryAddressMask)
}

func (e entryBits) tentative() bool { return uint64(e)&entryTentativeBit != 0 }

// withAddress returns a copy of e pointing at a different log address,
// preserving tag and tentative bit. Used when TryUpdate updates an
// existing chain head in place via CAS.
func (e entryBits) withAddress(addr hlog.Address) entryBits {
	cleared := uint64(e) &^ (entryAddressMask << entryAddrShift)
	return entryBits(cleared | (uint64(addr)&entryAddressMask)<<entryAddrShift)
}

func (e entryBits) withTentative(v bool) entryBits {
	if v {
		return entryBits(uint64(e) | entryTentativeBit)
	}
	return entryBits(uint64(e) &^ entryTentativeBit)
}

// atomicEntry is one CAS-able slot in a bucket.
type atomicEntry struct {
	v atomic.Uint64
}

func (a *atomicEntry) load() entryBits { return entryBits(a.v.Load()) }
func (a *atomicEntry) store(e entryBits) { a.v.Store(uint64(e)) }
func (a *atomicEntry) cas(old, new entryBits) bool {
	return a.v.CompareAndSwap(uint64(old), uint64(new))
}

// bucketEntries is the number of inline slots per bucket before an
// overflow bucket is allocated. FASTER uses 7 so a bucket (7 entries +
// one overflow pointer) fits in one 64-byte cache line; this
// implementation is not cache-line packed in Go, but keeps the same
// fan-out for the same expected-chain-length behavior.
const bucketEntries = 7

// bucket is one slot of the flat index table.
type bucket struct {
	entries  [bucketEntries]atomicEntry
	overflow atomic.Pointer[bucket]
}

// tailWithRoom walks to the last bucket in this bucket's overflow chain,
// allocating a new overflow bucket via CAS if the current tail is full
// and has no successor yet. It always returns a bucket with at least one
// empty entry slot, or - vanishingly rarely, if every slot in a brand new
// overflow bucket just lost a race - loops to retry.
func (b *bucket) tailWithRoom() *bucket {
	cur := b
	for {
		for i := range cur.entries {
			if cur.entries[i].load().isEmpty() {
				return cur
			}
		}
		next := cur.overflow.Load()
		if next == nil {
			candidate := &bucket{}
			if cur.overflow.CompareAndSwap(nil, candidate) {
				next = candidate
			} else {
				next = cur.overflow.Load()
			}
		}
		cur = next
	}
}
