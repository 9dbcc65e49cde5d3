// Package bytekey provides the simplest kv family: opaque byte-slice
// keys and values, copied in full on every write. It has no in-place
// update support - RMW always falls through to copy-on-grow.
package bytekey

import (
	"bytes"
	"hash/maphash"

	"github.com/marcbinz/hlkv/kv"
)

var seed = maphash.MakeSeed()

// Key is a plain byte-slice key.
type Key []byte

func (k Key) Hash64() uint64 { return maphash.Bytes(seed, k) }

func (k Key) Equal(other any) bool {
	o, ok := other.(Key)
	if !ok {
		return false
	}
	return bytes.Equal(k, o)
}

func (k Key) Size() int { return len(k) }

func (k Key) Encode(dst []byte) { copy(dst, k) }

// DecodeKey reconstructs a Key from its encoded bytes. The returned Key
// aliases encoded; callers that need to retain it past the log record's
// lifetime must copy.
func DecodeKey(encoded []byte) Key { return Key(encoded) }

// Value is a plain byte-slice value. It implements kv.Value but not
// kv.InPlaceValue: updates always append a new record.
type Value []byte

func (v Value) Size() int { return len(v) }

func (v Value) Encode(dst []byte) { copy(dst, v) }

// DecodeValue reconstructs a Value from its encoded bytes.
func DecodeValue(encoded []byte) Value {
	cp := make(Value, len(encoded))
	copy(cp, encoded)
	return cp
}

var (
	_ kv.Key   = Key(nil)
	_ kv.Value = Value(nil)
)
