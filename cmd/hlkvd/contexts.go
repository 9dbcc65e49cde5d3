package main

import "github.com/marcbinz/hlkv/kv/fixed"

// upsertCtx, readCtx, rmwCtx, and deleteCtx are hlkvd's concrete
// engine.UpsertContext/ReadContext/RMWContext/DeleteContext
// implementations over kv/fixed - the demo binary has no RPC layer of
// its own, so these stand in for what a real caller's own context types
// would be.

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

// rmwCtx applies delta to Fields[0] of the current value, or installs it
// directly as the initial value on a miss - the "+1" scenario from
// spec.md §8.6 uses delta=1.
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
