// Package fixed provides fixed-width integer keys and an in-place
// generation-locked value record, grounding the engine's RMW fast path:
// spec.md's "+1" scenario increments one field of a resident value
// without appending a new log record.
package fixed

import (
	"encoding/binary"

	"github.com/marcbinz/hlkv/hlog"
	"github.com/marcbinz/hlkv/kv"
)

// Key is a fixed-width 64-bit integer key.
type Key uint64

func (k Key) Hash64() uint64 {
	// fibonacci hashing: spreads small sequential keys (the common case
	// in the +1 RMW benchmark) across the full 64-bit space.
	return uint64(k) * 0x9E3779B97F4A7C15
}

func (k Key) Equal(other any) bool {
	o, ok := other.(Key)
	return ok && k == o
}

func (k Key) Size() int { return 8 }

func (k Key) Encode(dst []byte) { binary.LittleEndian.PutUint64(dst, uint64(k)) }

// DecodeKey reconstructs a Key from its encoded bytes.
func DecodeKey(encoded []byte) Key {
	return Key(binary.LittleEndian.Uint64(encoded))
}

// NumFields is the number of int64 fields carried by Value. The RMW "+1"
// benchmark touches only Fields[0]; the rest exist to give the record a
// realistic width for page/record-size testing.
const NumFields = 8

// Value is a fixed-width record whose first 8 bytes are a generation
// lock (spec.md §4.3), followed by NumFields int64 fields. It implements
// kv.InPlaceValue: RMW deltas are applied directly to Fields[0] without
// ever appending a new record, as long as the caller holds the lock.
type Value struct {
	hlog.GenLock
	Fields [NumFields]int64
}

const valueSize = 8 + NumFields*8 // GenLock's one atomic.Uint64 + the fields

func (v *Value) Size() int { return valueSize }

// Encode writes only the Fields region, dst[8:]. dst[0:8] is the
// generation lock word and is the engine's to manage: on a brand new
// record it is already zeroed (a fresh page buffer), and on an in-place
// update the engine holds it locked and Encode must not disturb it.
func (v *Value) Encode(dst []byte) {
	for i, f := range v.Fields {
		binary.LittleEndian.PutUint64(dst[8+i*8:16+i*8], uint64(f))
	}
}

// TryUpdateInPlace adds delta to Fields[0] of the record already stored
// at raw. The caller must have already won TryLockGeneration on the
// GenLock occupying raw[0:8]; TryUpdateInPlace only touches the fields,
// never the lock word itself.
func (v *Value) TryUpdateInPlace(raw []byte, delta any) bool {
	d, ok := delta.(int64)
	if !ok {
		return false
	}
	cur := int64(binary.LittleEndian.Uint64(raw[8:16]))
	binary.LittleEndian.PutUint64(raw[8:16], uint64(cur+d))
	return true
}

// DecodeValue reconstructs a Value from its encoded bytes. The returned
// value's GenLock is a fresh copy, not aliased to the log; callers that
// want to mutate the record in place must do so through TryUpdateInPlace
// against the log's own bytes, not against a decoded copy.
func DecodeValue(encoded []byte) *Value {
	v := &Value{}
	v.GenLock = hlog.GenLock{} // decoded copies never participate in locking
	for i := 0; i < NumFields; i++ {
		v.Fields[i] = int64(binary.LittleEndian.Uint64(encoded[8+i*8 : 16+i*8]))
	}
	return v
}

var (
	_ kv.Key          = Key(0)
	_ kv.InPlaceValue = (*Value)(nil)
)
