// Package enginetest is a reusable test suite for engine.Engine: one
// shared battery of subtests runnable against any engine a factory hands
// back. There is only one underlying implementation to vary, so the
// suite instead varies the geometry (bucket count, log capacity, page
// size) the factory constructs with, letting the same assertions run
// against a tiny, grow-prone index and a roomy one without duplicating
// the test bodies.
package enginetest

import (
	"sync"
	"testing"

	"github.com/marcbinz/hlkv/engine"
	"github.com/marcbinz/hlkv/kv/fixed"
)

// Factory builds a fresh, empty engine for one subtest. Each subtest
// closes what it builds.
type Factory func() *engine.Engine[fixed.Key, *fixed.Value]

// RunEngineTests runs the full suite against an engine built by factory,
// grouped under a subtest named name.
func RunEngineTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("UpsertRead", func(t *testing.T) { testUpsertRead(t, factory()) })
		t.Run("RMWInPlace", func(t *testing.T) { testRMWInPlace(t, factory()) })
		t.Run("Delete", func(t *testing.T) { testDelete(t, factory()) })
		t.Run("Grow", func(t *testing.T) { testGrow(t, factory()) })
		t.Run("InPlaceVsCopy", func(t *testing.T) { testInPlaceVsCopy(t, factory()) })
		t.Run("Iterator", func(t *testing.T) { testIterator(t, factory()) })
		t.Run("CheckpointRecover", func(t *testing.T) { testCheckpointRecover(t, factory()) })
		t.Run("ConcurrentRMW", func(t *testing.T) { testConcurrentRMW(t, factory()) })
		t.Run("RealisticUsage", func(t *testing.T) { testRealisticUsage(t, factory()) })
	})
}

type upsertCtx struct {
	key   fixed.Key
	value *fixed.Value
}

func (c *upsertCtx) Key() fixed.Key      { return c.key }
func (c *upsertCtx) Value() *fixed.Value { return c.value }

type readCtx struct {
	key   fixed.Key
	value *fixed.Value
	found bool
}

func (c *readCtx) Key() fixed.Key { return c.key }
func (c *readCtx) Completed(value *fixed.Value, found bool) {
	c.value, c.found = value, found
}

type rmwCtx struct {
	key   fixed.Key
	delta int64
}

func (c *rmwCtx) Key() fixed.Key { return c.key }
func (c *rmwCtx) InitialValue() *fixed.Value {
	v := &fixed.Value{}
	v.Fields[0] = c.delta
	return v
}
func (c *rmwCtx) Delta() any { return c.delta }
func (c *rmwCtx) Apply(old *fixed.Value) *fixed.Value {
	next := &fixed.Value{}
	next.Fields[0] = old.Fields[0] + c.delta
	return next
}

type deleteCtx struct{ key fixed.Key }

func (c *deleteCtx) Key() fixed.Key { return c.key }

func valueOf(n int64) *fixed.Value {
	v := &fixed.Value{}
	v.Fields[0] = n
	return v
}

func mustRead(t *testing.T, e *engine.Engine[fixed.Key, *fixed.Value], s *engine.Session, key int64) (*fixed.Value, bool) {
	ctx := &readCtx{key: fixed.Key(key)}
	if _, err := e.Read(s, ctx, 0); err != nil {
		t.Fatalf("read(%d): %v", key, err)
	}
	return ctx.value, ctx.found
}

func testUpsertRead(t *testing.T, e *engine.Engine[fixed.Key, *fixed.Value]) {
	defer e.Close()
	s := e.OpenSession()
	defer e.CloseSession(s)

	for i, k := range []int64{1, 2, 3} {
		if _, err := e.Upsert(s, &upsertCtx{key: fixed.Key(k), value: valueOf(0x1000)}, uint64(i+1)); err != nil {
			t.Fatalf("upsert(%d): %v", k, err)
		}
	}

	for _, k := range []int64{1, 2, 3} {
		v, found := mustRead(t, e, s, k)
		if !found || v.Fields[0] != 0x1000 {
			t.Errorf("read(%d) = (%v, %v), want (0x1000, true)", k, v, found)
		}
	}

	if _, found := mustRead(t, e, s, 4); found {
		t.Errorf("read(4) found a key that was never written")
	}
}

func testRMWInPlace(t *testing.T, e *engine.Engine[fixed.Key, *fixed.Value]) {
	defer e.Close()
	s := e.OpenSession()
	defer e.CloseSession(s)

	if _, err := e.Upsert(s, &upsertCtx{key: fixed.Key(3), value: valueOf(0x1000)}, 1); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := e.RMW(s, &rmwCtx{key: fixed.Key(3), delta: 0x10}, 2); err != nil {
		t.Fatalf("rmw: %v", err)
	}

	v, found := mustRead(t, e, s, 3)
	if !found || v.Fields[0] != 0x1010 {
		t.Errorf("read(3) = (%v, %v), want (0x1010, true)", v, found)
	}

	if _, found := mustRead(t, e, s, 99); found {
		t.Errorf("RMW on a fresh key via Read should not see anything before the RMW runs")
	}
	if _, err := e.RMW(s, &rmwCtx{key: fixed.Key(99), delta: 7}, 3); err != nil {
		t.Fatalf("rmw on miss: %v", err)
	}
	v, found = mustRead(t, e, s, 99)
	if !found || v.Fields[0] != 7 {
		t.Errorf("RMW on miss should install InitialValue; read(99) = (%v, %v), want (7, true)", v, found)
	}
}

func testDelete(t *testing.T, e *engine.Engine[fixed.Key, *fixed.Value]) {
	defer e.Close()
	s := e.OpenSession()
	defer e.CloseSession(s)

	if _, err := e.Upsert(s, &upsertCtx{key: fixed.Key(1), value: valueOf(1)}, 1); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := e.Delete(s, &deleteCtx{key: fixed.Key(1)}, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found := mustRead(t, e, s, 1); found {
		t.Errorf("read after delete should miss")
	}

	if _, err := e.Delete(s, &deleteCtx{key: fixed.Key(404)}, 3); err != nil {
		t.Errorf("delete of a never-written key should not error: %v", err)
	}
}

func testGrow(t *testing.T, e *engine.Engine[fixed.Key, *fixed.Value]) {
	defer e.Close()
	s := e.OpenSession()
	defer e.CloseSession(s)

	before := e.IndexBucketCount()
	const numKeys = 256
	for i := int64(0); i < numKeys; i++ {
		if _, err := e.Upsert(s, &upsertCtx{key: fixed.Key(i), value: valueOf(i)}, uint64(i+1)); err != nil {
			t.Fatalf("upsert(%d): %v", i, err)
		}
	}

	e.GrowIndex()
	after := e.IndexBucketCount()
	if after != before*2 {
		t.Errorf("bucket count after GrowIndex = %d, want %d (double of %d)", after, before*2, before)
	}

	for i := int64(0); i < numKeys; i++ {
		v, found := mustRead(t, e, s, i)
		if !found || v.Fields[0] != i {
			t.Errorf("read(%d) after grow = (%v, %v), want (%d, true)", i, v, found, i)
		}
	}
}

func testInPlaceVsCopy(t *testing.T, e *engine.Engine[fixed.Key, *fixed.Value]) {
	defer e.Close()
	s := e.OpenSession()
	defer e.CloseSession(s)

	key := fixed.Key(1)
	if _, err := e.Upsert(s, &upsertCtx{key: key, value: valueOf(1)}, 1); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	sizeBefore := e.Size()
	if _, err := e.Upsert(s, &upsertCtx{key: key, value: valueOf(2)}, 2); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if grew := e.Size() - sizeBefore; grew != 0 {
		t.Errorf("mutable-region overwrite grew the log by %d bytes, want 0 (in-place)", grew)
	}

	if _, err := e.CheckpointLog(); err != nil {
		t.Fatalf("checkpointlog: %v", err)
	}

	sizeBefore = e.Size()
	if _, err := e.Upsert(s, &upsertCtx{key: key, value: valueOf(3)}, 3); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if grew := e.Size() - sizeBefore; grew == 0 {
		t.Errorf("post-checkpoint overwrite did not grow the log, want copy-on-grow")
	}

	v, found := mustRead(t, e, s, 1)
	if !found || v.Fields[0] != 3 {
		t.Errorf("read(1) = (%v, %v), want (3, true)", v, found)
	}
}

func testIterator(t *testing.T, e *engine.Engine[fixed.Key, *fixed.Value]) {
	defer e.Close()
	s := e.OpenSession()
	defer e.CloseSession(s)

	for i := int64(1); i <= 5; i++ {
		if _, err := e.Upsert(s, &upsertCtx{key: fixed.Key(i), value: valueOf(i * 100)}, uint64(i)); err != nil {
			t.Fatalf("upsert(%d): %v", i, err)
		}
	}
	if _, err := e.Delete(s, &deleteCtx{key: fixed.Key(3)}, 6); err != nil {
		t.Fatalf("delete: %v", err)
	}

	anchors := e.Anchors()
	it, err := e.ScanInMemory(anchors.Head(), anchors.Tail())
	if err != nil {
		t.Fatalf("scaninmemory: %v", err)
	}
	defer it.Close()

	seen := map[int64]int64{}
	var rec engine.ScanRecord[fixed.Key, *fixed.Value]
	for it.GetNext(&rec) {
		seen[int64(rec.Key)] = rec.Value.Fields[0]
	}

	// the scan skips the tombstone but not the record it superseded, so
	// deleted key 3 still shows up with its pre-delete value.
	if got, ok := seen[3]; !ok || got != 300 {
		t.Errorf("scan of deleted key 3: got %v, ok=%v, want its superseded value 300", got, ok)
	}
	for i := int64(1); i <= 5; i++ {
		if i == 3 {
			continue
		}
		if got, ok := seen[i]; !ok || got != i*100 {
			t.Errorf("scan missing or wrong value for key %d: got %v, ok=%v", i, got, ok)
		}
	}
}

func testCheckpointRecover(t *testing.T, e *engine.Engine[fixed.Key, *fixed.Value]) {
	defer e.Close()
	s := e.OpenSession()
	defer e.CloseSession(s)

	const batch = 500
	for i := int64(0); i < batch; i++ {
		if _, err := e.Upsert(s, &upsertCtx{key: fixed.Key(i), value: valueOf(i)}, uint64(i+1)); err != nil {
			t.Fatalf("upsert(%d): %v", i, err)
		}
	}

	token, err := e.Checkpoint()
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	for i := int64(batch); i < 2*batch; i++ {
		if _, err := e.Upsert(s, &upsertCtx{key: fixed.Key(i), value: valueOf(i)}, uint64(i+1)); err != nil {
			t.Fatalf("upsert(%d): %v", i, err)
		}
	}

	result, err := e.Recover(token, token)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if result.Version == 0 {
		t.Errorf("recovered version = 0, want > 0")
	}

	if v, found := mustRead(t, e, s, 0); !found || v.Fields[0] != 0 {
		t.Errorf("pre-checkpoint key 0 = (%v, %v), want (0, true) after recover", v, found)
	}
	if _, found := mustRead(t, e, s, batch); found {
		t.Errorf("post-checkpoint key %d still found after recover, want it rolled back", batch)
	}
}

func testConcurrentRMW(t *testing.T, e *engine.Engine[fixed.Key, *fixed.Value]) {
	defer e.Close()

	const sessions = 8
	const perSession = 1000
	key := fixed.Key(1)

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := e.OpenSession()
			defer e.CloseSession(s)
			for j := 0; j < perSession; j++ {
				if _, err := e.RMW(s, &rmwCtx{key: key, delta: 1}, 0); err != nil {
					t.Errorf("rmw: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	s := e.OpenSession()
	defer e.CloseSession(s)
	v, found := mustRead(t, e, s, 1)
	want := int64(sessions * perSession)
	if !found || v.Fields[0] != want {
		t.Errorf("final value = (%v, %v), want (%d, true)", v, found, want)
	}
}

func testRealisticUsage(t *testing.T, e *engine.Engine[fixed.Key, *fixed.Value]) {
	defer e.Close()

	const numOperations = 5000
	const numWorkers = 8

	var wg sync.WaitGroup
	var errCount int64
	var mu sync.Mutex

	opsPerWorker := numOperations / numWorkers
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s := e.OpenSession()
			defer e.CloseSession(s)

			for i := 0; i < opsPerWorker; i++ {
				n := worker*opsPerWorker + i
				key := fixed.Key(n % 64)
				var err error
				switch n % 10 {
				case 0, 1, 2, 3, 4, 5, 6:
					_, err = e.Upsert(s, &upsertCtx{key: key, value: valueOf(int64(n))}, 0)
				case 7, 8:
					_, err = e.Read(s, &readCtx{key: key}, 0)
				case 9:
					_, err = e.Delete(s, &deleteCtx{key: key}, 0)
				}
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	if errCount > 0 {
		t.Errorf("%d operations errored during mixed concurrent load", errCount)
	}

	s := e.OpenSession()
	defer e.CloseSession(s)
	for i := int64(0); i < 64; i++ {
		if _, err := e.Read(s, &readCtx{key: fixed.Key(i)}, 0); err != nil {
			t.Errorf("post-load read(%d): %v", i, err)
		}
	}
}
