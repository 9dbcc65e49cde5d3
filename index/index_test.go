package index

import (
	"testing"

	"github.com/marcbinz/hlkv/hlog"
)

// fakeKeyStore lets tests associate a log address with a hash and a key
// string without needing a real hlog.Log.
type fakeKeyStore struct {
	keys map[hlog.Address]string
}

func (f *fakeKeyStore) matches(want string) func(hlog.Address) bool {
	return func(addr hlog.Address) bool { return f.keys[addr] == want }
}

func TestInsertThenLookup(t *testing.T) {
	idx := New(4)
	store := &fakeKeyStore{keys: map[hlog.Address]string{100: "alpha"}}

	hash := uint64(0xABCD_1234_0000_0001)
	conflict, inserted := idx.TryInsert(hash, store.matches("alpha"), 100)
	if !inserted || conflict != hlog.Null {
		t.Fatalf("TryInsert() = (%v, %v), want (Null, true)", conflict, inserted)
	}

	addr, found := idx.Lookup(hash, store.matches("alpha"))
	if !found || addr != 100 {
		t.Fatalf("Lookup() = (%v, %v), want (100, true)", addr, found)
	}

	_, found = idx.Lookup(hash, store.matches("beta"))
	if found {
		t.Fatalf("Lookup() with a non-matching key should not find the alpha entry")
	}
}

func TestInsertConflictReportsExisting(t *testing.T) {
	idx := New(4)
	store := &fakeKeyStore{keys: map[hlog.Address]string{100: "alpha", 200: "alpha"}}
	hash := uint64(0x1111_2222_0000_0003)

	if _, inserted := idx.TryInsert(hash, store.matches("alpha"), 100); !inserted {
		t.Fatalf("first TryInsert should succeed")
	}

	conflict, inserted := idx.TryInsert(hash, store.matches("alpha"), 200)
	if inserted {
		t.Fatalf("second TryInsert for the same key should report a conflict, not insert")
	}
	if conflict != 100 {
		t.Fatalf("conflict = %v, want 100 (the existing entry's address)", conflict)
	}
}

func TestTryUpdateAdvancesAddress(t *testing.T) {
	idx := New(4)
	store := &fakeKeyStore{keys: map[hlog.Address]string{100: "alpha", 200: "alpha"}}
	hash := uint64(0x5555_6666_0000_0007)

	idx.TryInsert(hash, store.matches("alpha"), 100)

	if !idx.TryUpdate(hash, store.matches("alpha"), 100, 200) {
		t.Fatalf("TryUpdate should succeed when oldAddr matches the current entry")
	}
	addr, found := idx.Lookup(hash, store.matches("alpha"))
	if !found || addr != 200 {
		t.Fatalf("Lookup() after update = (%v, %v), want (200, true)", addr, found)
	}

	if idx.TryUpdate(hash, store.matches("alpha"), 100, 300) {
		t.Fatalf("TryUpdate with a stale oldAddr should fail")
	}
}

func TestGrowPreservesEntries(t *testing.T) {
	idx := New(2) // 4 buckets
	keys := map[hlog.Address]string{}
	hashes := map[string]uint64{
		"alpha": 0x0000_0000_0000_0000,
		"beta":  0x0000_0000_0000_0001,
		"gamma": 0x0000_0000_0000_0002,
		"delta": 0x0000_0000_0000_0003,
	}
	store := &fakeKeyStore{keys: keys}

	addr := hlog.Address(10)
	for name, h := range hashes {
		keys[addr] = name
		if _, inserted := idx.TryInsert(h, store.matches(name), addr); !inserted {
			t.Fatalf("TryInsert(%s) failed", name)
		}
		addr += 10
	}

	idx.Grow(func(a hlog.Address) uint64 { return hashes[keys[a]] })

	if got := idx.NumBuckets(); got != 8 {
		t.Fatalf("NumBuckets() after Grow = %d, want 8", got)
	}

	addr = hlog.Address(10)
	for name, h := range hashes {
		got, found := idx.Lookup(h, store.matches(name))
		if !found {
			t.Fatalf("Lookup(%s) not found after Grow", name)
		}
		_ = got
		addr += 10
	}
}
