package index

import "github.com/marcbinz/hlkv/hlog"

// Snapshot returns the log address held by every live entry across every
// bucket, in no particular order. It does not dereference the log: the
// index only ever stores addresses, so this is the entire persistent
// state checkpoint.IndexImage needs to capture (spec.md §4.7's "index image").
func (idx *Index) Snapshot() []hlog.Address {
	idx.mu.RLock()
	st := idx.state.Load()
	idx.mu.RUnlock()

	var out []hlog.Address
	for bi := range st.buckets {
		for cur := &st.buckets[bi]; cur != nil; cur = cur.overflow.Load() {
			for i := range cur.entries {
				e := cur.entries[i].load()
				if !e.isEmpty() {
					out = append(out, e.address())
				}
			}
		}
	}
	return out
}

// Rebuild constructs a fresh index of 2^initialBits buckets and reinserts
// every address in addrs, using rehash to recover each one's key hash -
// the same callback Grow uses, since the index itself never stores a
// key's original hash. Used by the engine's Recover to reconstruct the
// in-memory index from a persisted image.
func Rebuild(initialBits uint, addrs []hlog.Address, rehash func(hlog.Address) uint64) *Index {
	idx := New(initialBits)
	for _, addr := range addrs {
		h := rehash(addr)
		tag := tagOf(h)
		st := idx.state.Load()
		target := idx.bucketFor(st, h).tailWithRoom()
		for i := range target.entries {
			if target.entries[i].load().isEmpty() {
				target.entries[i].store(newEntry(tag, addr, false))
				break
			}
		}
	}
	return idx
}
