package engine_test

import (
	"testing"

	"github.com/marcbinz/hlkv/engine"
	"github.com/marcbinz/hlkv/enginetest"
	"github.com/marcbinz/hlkv/kv/fixed"
)

func newEngine(t *testing.T, buckets, logCapacity, pageSize uint64, mutableFraction float64) *engine.Engine[fixed.Key, *fixed.Value] {
	e, err := engine.Open(engine.Options[fixed.Key, *fixed.Value]{
		HashBucketCount: buckets,
		LogByteCapacity: logCapacity,
		PageSize:        pageSize,
		MutableFraction: mutableFraction,
		DecodeKey:       fixed.DecodeKey,
		DecodeValue:     fixed.DecodeValue,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return e
}

func TestEngine(t *testing.T) {
	enginetest.RunEngineTests(t, "default", func() *engine.Engine[fixed.Key, *fixed.Value] {
		return newEngine(t, 128, 16<<20, 1<<20, 0.5)
	})

	enginetest.RunEngineTests(t, "tiny-index", func() *engine.Engine[fixed.Key, *fixed.Value] {
		return newEngine(t, 16, 8<<20, 1<<19, 0.5)
	})
}

func TestOpenRequiresDecoders(t *testing.T) {
	_, err := engine.Open(engine.Options[fixed.Key, *fixed.Value]{
		HashBucketCount: 128,
		LogByteCapacity: 16 << 20,
		PageSize:        1 << 20,
		MutableFraction: 0.5,
	})
	if err == nil {
		t.Fatalf("Open without DecodeKey/DecodeValue should fail")
	}
}

func TestOpenRejectsUndersizedLog(t *testing.T) {
	_, err := engine.Open(engine.Options[fixed.Key, *fixed.Value]{
		HashBucketCount: 128,
		LogByteCapacity: 1 << 10,
		PageSize:        1 << 20,
		MutableFraction: 0.5,
		DecodeKey:       fixed.DecodeKey,
		DecodeValue:     fixed.DecodeValue,
	})
	if err == nil {
		t.Fatalf("Open with LogByteCapacity < 2*PageSize should fail")
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newEngine(t, 128, 16<<20, 1<<20, 0.5)
	defer e.Close()

	s := e.OpenSession()
	if s == nil {
		t.Fatalf("OpenSession returned nil")
	}
	e.CloseSession(s)
	e.CloseSession(s)
}

func TestContinueSession(t *testing.T) {
	e := newEngine(t, 128, 16<<20, 1<<20, 0.5)
	defer e.Close()

	s := e.OpenSession()
	guid := s.GUID()
	e.CloseSession(s)

	resumed := e.ContinueSession(guid, 42)
	defer e.CloseSession(resumed)
	if resumed.GUID() != guid {
		t.Errorf("ContinueSession GUID = %s, want %s", resumed.GUID(), guid)
	}
}
