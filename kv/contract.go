// Package kv defines the contracts that any key or value type must
// satisfy to be used with engine.Engine, plus a few concrete families
// built on top of them. The engine is generic over these contracts so
// the hybrid log's record layout, hashing, and in-place mutation rules
// stay independent of any particular schema.
package kv

import "github.com/marcbinz/hlkv/hlog"

// Key is the contract a key type must satisfy. Keys are always copied
// into the log in full; there is no in-place key mutation.
type Key interface {
	// Hash64 returns the key's 64-bit hash, used by the index (index.Index)
	// to pick a bucket and tag. Implementations should use a
	// well-distributed hash; a poor one degrades every bucket's chain
	// length uniformly.
	Hash64() uint64
	// Equal reports whether this key is the same key as other.
	Equal(other any) bool
	// Size returns the number of bytes this key occupies once encoded
	// into a log record.
	Size() int
	// Encode writes the key's wire representation into dst, which is
	// exactly Size() bytes long.
	Encode(dst []byte)
}

// Value is the contract a value type must satisfy for copy-based
// operations: initial insertion, RMW fallback when an in-place update
// does not fit, and reads.
type Value interface {
	// Size returns the number of bytes this value occupies once encoded.
	Size() int
	// Encode writes the value's wire representation into dst, which is
	// exactly Size() bytes long.
	Encode(dst []byte)
}

// InPlaceValue is implemented by value types that support
// generation-locked mutation without a new log record, per spec.md §4.3.
// Its first field must embed hlog.GenLock so the engine can find the lock
// word at a fixed offset.
type InPlaceValue interface {
	Value
	// TryUpdateInPlace attempts to apply delta to the value bytes stored
	// at raw (exactly Size() bytes, already locked by the engine via
	// raw's embedded GenLock). It returns false if delta cannot be
	// represented in-place (e.g. it would grow a variable-length field
	// past its current capacity), in which case the engine falls back to
	// a copy-on-grow append instead.
	TryUpdateInPlace(raw []byte, delta any) bool
}

// Decoder reconstructs a value of type V from its encoded bytes, as read
// back from the log. Concrete kv families provide one so the generic
// engine never needs to know a schema's binary layout.
type Decoder[V any] func(encoded []byte) V

// KeyDecoder reconstructs a key of type K from its encoded bytes.
type KeyDecoder[K any] func(encoded []byte) K

// RecordAddresses is a convenience alias used by callers that need to
// talk about a chain of versions for the same key.
type RecordAddresses = []hlog.Address
