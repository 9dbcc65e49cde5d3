package engine

import (
	"github.com/marcbinz/hlkv/hlog"
	"github.com/marcbinz/hlkv/kv"
)

// UpsertContext is the capability set Upsert needs from a caller, per
// spec.md §4.5/§6: a key, and the value to install. The engine decides
// in-place update versus copy-on-grow on its own, using kv.InPlaceValue
// and the record's current size - the caller never chooses the path.
type UpsertContext[K kv.Key, V kv.Value] interface {
	Key() K
	Value() V
}

// ReadContext receives the result of a Read. Completed is called at most
// once: synchronously within Read (the common case), or later from
// CompletePending when the record had fallen below Head and the parked
// read is re-issued. A parked read that CompletePending drops is never
// completed.
type ReadContext[K kv.Key, V kv.Value] interface {
	Key() K
	Completed(value V, found bool)
}

// RMWContext is the capability set RMW needs: the key, an initial value
// to install on a miss, a delta to try in place, and a fallback copy path
// for when the in-place attempt cannot be applied.
type RMWContext[K kv.Key, V kv.Value] interface {
	Key() K
	InitialValue() V
	Delta() any
	// Apply computes the new value from the current one, for the
	// copy-on-grow path. Called with the decoded current value.
	Apply(old V) V
}

// DeleteContext is the capability set Delete needs: just the key.
type DeleteContext[K kv.Key] interface {
	Key() K
}

// PendingCapable is implemented by contexts that might be parked on a
// session's pending queue (spec.md §4.6): when a lookup resolves to an
// address below Head, the engine needs a copy of the context that
// survives after the caller's stack unwinds.
type PendingCapable interface {
	Clone() PendingCapable
}

// Device is the out-of-scope external collaborator spec.md §1(b) names:
// whatever pages a record back into the resident log once its address
// has fallen below Head. hlkv ships no concrete device; Options.Device
// defaults to nil, and any operation that would otherwise need one
// returns hlkv.CodePending and is later dropped by CompletePending. The
// engine never calls Load: with a Device set, CompletePending only
// re-issues the parked operation.
type Device interface {
	// Load is asked to make addr resident again. On success it returns
	// the rehydrated record bytes (header + key + value, as laid out by
	// record.go).
	Load(addr hlog.Address) ([]byte, error)
}
