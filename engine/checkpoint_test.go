package engine_test

import (
	"testing"

	"github.com/marcbinz/hlkv/checkpoint"
	"github.com/marcbinz/hlkv/kv/fixed"
)

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

func valueOf(n int64) *fixed.Value {
	v := &fixed.Value{}
	v.Fields[0] = n
	return v
}

// TestRecoverWithoutIndexImage exercises the fallback path where only a
// log checkpoint exists: Recover must rebuild the index by replaying the
// restored log suffix rather than failing.
func TestRecoverWithoutIndexImage(t *testing.T) {
	e := newEngine(t, 128, 16<<20, 1<<20, 0.5)
	defer e.Close()

	s := e.OpenSession()
	defer e.CloseSession(s)

	const batch = 200
	for i := int64(0); i < batch; i++ {
		if _, err := e.Upsert(s, &upsertCtx{key: fixed.Key(i), value: valueOf(i)}, uint64(i+1)); err != nil {
			t.Fatalf("upsert(%d): %v", i, err)
		}
	}

	logToken, err := e.CheckpointLog()
	if err != nil {
		t.Fatalf("checkpointlog: %v", err)
	}

	for i := int64(batch); i < 2*batch; i++ {
		if _, err := e.Upsert(s, &upsertCtx{key: fixed.Key(i), value: valueOf(i)}, uint64(i+1)); err != nil {
			t.Fatalf("upsert(%d): %v", i, err)
		}
	}

	if _, err := e.Recover(checkpoint.Zero, logToken); err != nil {
		t.Fatalf("recover without index image: %v", err)
	}

	for i := int64(0); i < batch; i++ {
		ctx := &readCtx{key: fixed.Key(i)}
		if _, err := e.Read(s, ctx, 0); err != nil {
			t.Fatalf("read(%d): %v", i, err)
		}
		if !ctx.found || ctx.value.Fields[0] != i {
			t.Errorf("read(%d) = (%v, %v), want (%d, true)", i, ctx.value, ctx.found, i)
		}
	}
	postCtx := &readCtx{key: fixed.Key(batch)}
	if _, err := e.Read(s, postCtx, 0); err != nil {
		t.Fatalf("read(%d): %v", batch, err)
	}
	if postCtx.found {
		t.Errorf("read(%d) found a key from after the checkpoint, want it rolled back", batch)
	}
}

func TestCheckpointIndexAndLogMintIndependentTokens(t *testing.T) {
	e := newEngine(t, 128, 16<<20, 1<<20, 0.5)
	defer e.Close()

	s := e.OpenSession()
	defer e.CloseSession(s)
	if _, err := e.Upsert(s, &upsertCtx{key: fixed.Key(1), value: valueOf(1)}, 1); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	indexToken, err := e.CheckpointIndex()
	if err != nil {
		t.Fatalf("checkpointindex: %v", err)
	}
	logToken, err := e.CheckpointLog()
	if err != nil {
		t.Fatalf("checkpointlog: %v", err)
	}
	if indexToken == logToken {
		t.Errorf("CheckpointIndex and CheckpointLog should mint independent tokens when called standalone")
	}

	if _, err := e.Recover(indexToken, logToken); err != nil {
		t.Fatalf("recover: %v", err)
	}
}

func TestRecoverUnknownLogTokenFails(t *testing.T) {
	e := newEngine(t, 128, 16<<20, 1<<20, 0.5)
	defer e.Close()

	if _, err := e.Recover(checkpoint.Zero, checkpoint.NewToken()); err == nil {
		t.Errorf("Recover with an unknown log token should fail")
	}
}
