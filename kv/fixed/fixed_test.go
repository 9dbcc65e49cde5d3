package fixed

import "testing"

func TestKeyHashDistinguishesSequentialKeys(t *testing.T) {
	if Key(1).Hash64() == Key(2).Hash64() {
		t.Fatalf("sequential keys hashed to the same value")
	}
	if !Key(7).Equal(Key(7)) {
		t.Fatalf("identical keys should be Equal")
	}
}

func TestTryUpdateInPlaceAppliesDelta(t *testing.T) {
	v := &Value{}
	v.Fields[0] = 10
	raw := make([]byte, v.Size())
	v.Encode(raw)

	if ok := v.TryUpdateInPlace(raw, int64(5)); !ok {
		t.Fatalf("TryUpdateInPlace should accept an int64 delta")
	}

	got := DecodeValue(raw)
	if got.Fields[0] != 15 {
		t.Fatalf("Fields[0] = %d, want 15 after +5 RMW", got.Fields[0])
	}

	if ok := v.TryUpdateInPlace(raw, "not an int64"); ok {
		t.Fatalf("TryUpdateInPlace should reject a delta of the wrong type")
	}
}

func TestGenLockSurvivesRoundTrip(t *testing.T) {
	v := &Value{}
	if r := v.TryLockGeneration(); r != 0 { // LockAcquired == 0
		t.Fatalf("TryLockGeneration on a fresh value should succeed")
	}
	v.UnlockGeneration(false)

	raw := make([]byte, v.Size())
	v.Encode(raw)
	// the decoded copy must not alias v's lock state.
	got := DecodeValue(raw)
	if r := got.TryLockGeneration(); r != 0 {
		t.Fatalf("a decoded copy should start with a fresh, unlocked GenLock")
	}
}
