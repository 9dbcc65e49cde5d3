package engine

import (
	"github.com/marcbinz/hlkv"
	"github.com/marcbinz/hlkv/epoch"
	"github.com/marcbinz/hlkv/hlog"
	"github.com/marcbinz/hlkv/kv"
)

// ScanRecord is the borrowed key/value pair an Iterator writes into on
// each GetNext call. Its fields are only valid until the next GetNext or
// Close: the iterator does not copy records out of the log.
type ScanRecord[K kv.Key, V kv.Value] struct {
	Key   K
	Value V
}

// Iterator walks every record in [beginScan, endScan) within the resident
// log (spec.md §4.8) whose header is neither invalid nor a tombstone. A
// record superseded by a later one for the same key, including one a
// Delete superseded, is still produced. It holds its own epoch guard for its
// entire lifetime, so the records it visits cannot be reclaimed out from
// under it even if a writer advances Head past them mid-scan - though
// GetNext still reports ContractViolation if the scan range itself falls
// below the (possibly since-advanced) Head, since at that point the
// bytes it would read have in fact been evicted.
type Iterator[K kv.Key, V kv.Value] struct {
	e      *Engine[K, V]
	guard  *epoch.Guard
	cursor hlog.Address
	end    hlog.Address
	closed bool
}

func newIterator[K kv.Key, V kv.Value](e *Engine[K, V], begin, end hlog.Address) *Iterator[K, V] {
	it := &Iterator[K, V]{
		e:      e,
		guard:  e.epochs.Acquire(),
		cursor: begin,
		end:    end,
	}
	it.guard.Protect()
	return it
}

// GetNext advances the iterator and reports whether out was populated.
// It returns false once the cursor reaches endScan; there is no error in
// that case, only in the final return value's absence of a record.
func (it *Iterator[K, V]) GetNext(out *ScanRecord[K, V]) bool {
	for {
		if it.cursor >= it.end {
			return false
		}
		if it.cursor < it.e.log.Anchors().Head() {
			hlkv.Violate("iterator cursor %d fell below head %d mid-scan", it.cursor, it.e.log.Anchors().Head())
		}

		raw := it.e.log.Get(it.cursor)
		hdr := hlog.HeaderAt(raw).Load()
		if hdr.EndOfPage() {
			pageSize := it.e.log.PageSize()
			it.cursor = hlog.Address((it.cursor.Page(pageSize) + 1) * pageSize)
			continue
		}

		layout := layoutAt(raw)
		size := recordSize(layout.keySize(), layout.valueSize())
		it.cursor += hlog.Address(size)

		if hdr.Invalid() || hdr.Tombstone() {
			continue
		}

		out.Key = it.e.opts.DecodeKey(layout.keyBytes())
		out.Value = it.e.opts.DecodeValue(layout.valueBytes())
		return true
	}
}

// Close releases the iterator's epoch guard. Callers must call it exactly
// once when done scanning.
func (it *Iterator[K, V]) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.guard.Release()
}

// ScanInMemory opens an iterator over [begin, end), both of which must be
// ≥ the engine's current Head (spec.md §4.8).
func (e *Engine[K, V]) ScanInMemory(begin, end hlog.Address) (*Iterator[K, V], error) {
	if begin < e.log.Anchors().Head() || end < begin {
		return nil, hlkv.NewError(hlkv.CodeInvalidOperation, "scan range must be within the resident log and non-decreasing")
	}
	return newIterator(e, begin, end), nil
}
