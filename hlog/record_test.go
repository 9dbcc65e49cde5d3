package hlog

import "testing"

func TestRecordHeaderFlags(t *testing.T) {
	h := NewRecordHeader(Address(42), false)
	if h.Tombstone() {
		t.Fatalf("fresh header should not be a tombstone")
	}
	if h.PreviousAddress() != 42 {
		t.Fatalf("PreviousAddress() = %d, want 42", h.PreviousAddress())
	}

	h = h.WithTombstone(true)
	if !h.Tombstone() {
		t.Fatalf("WithTombstone(true) did not set the bit")
	}
	if h.PreviousAddress() != 42 {
		t.Fatalf("WithTombstone changed the previous-address bits")
	}

	h = h.WithInvalid(true)
	if !h.Invalid() || !h.Tombstone() {
		t.Fatalf("WithInvalid should not clear unrelated bits")
	}
}

func TestAtomicHeaderCAS(t *testing.T) {
	var a AtomicHeader
	h1 := NewRecordHeader(Null, false)
	a.Store(h1)

	h2 := h1.WithInvalid(true)
	if !a.CAS(h1, h2) {
		t.Fatalf("CAS with matching old value should succeed")
	}
	if a.CAS(h1, h2) {
		t.Fatalf("CAS with stale old value should fail")
	}
	if got := a.Load(); got != h2 {
		t.Fatalf("Load() = %v, want %v", got, h2)
	}
}

func TestGenLockTryLockStates(t *testing.T) {
	var g GenLock

	if r := g.TryLockGeneration(); r != LockAcquired {
		t.Fatalf("first TryLockGeneration() = %v, want LockAcquired", r)
	}
	if r := g.TryLockGeneration(); r != LockBusy {
		t.Fatalf("second TryLockGeneration() = %v, want LockBusy", r)
	}

	before := GenNumber(g.Snapshot())
	g.UnlockGeneration(false)
	after := GenNumber(g.Snapshot())
	if after != before+1 {
		t.Fatalf("UnlockGeneration did not bump generation: before=%d after=%d", before, after)
	}

	if r := g.TryLockGeneration(); r != LockAcquired {
		t.Fatalf("TryLockGeneration after unlock = %v, want LockAcquired", r)
	}
	g.UnlockGeneration(true) // grew: should mark replaced
	if r := g.TryLockGeneration(); r != LockReplaced {
		t.Fatalf("TryLockGeneration after grown-unlock = %v, want LockReplaced", r)
	}
}
