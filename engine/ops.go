package engine

import (
	"github.com/marcbinz/hlkv"
	"github.com/marcbinz/hlkv/hlog"
	"github.com/marcbinz/hlkv/kv"
)

// Upsert implements spec.md §4.5's Upsert state machine: insert on miss,
// in-place overwrite when the current record is mutable and size
// permits, otherwise copy-on-grow.
func (e *Engine[K, V]) Upsert(s *Session, ctx UpsertContext[K, V], serial uint64) (hlkv.Code, error) {
	e.checkSession(s)
	s.nextSerial(serial)
	s.guard.Protect()
	defer s.guard.Refresh()

	key := ctx.Key()
	hash := key.Hash64()
	matches := e.keyMatches(key)

	for {
		addr, found := e.idx.Lookup(hash, matches)
		if !found {
			newAddr, raw := e.appendRecord(key, ctx.Value(), hlog.Null, false)
			if conflict, inserted := e.idx.TryInsert(hash, matches, newAddr); inserted {
				e.metrics.upserts.Inc()
				return hlkv.CodeOk, nil
			} else {
				e.relinkPrevious(raw, conflict)
				if e.idx.TryUpdate(hash, matches, conflict, newAddr) {
					e.metrics.upserts.Inc()
					return hlkv.CodeOk, nil
				}
				e.invalidate(raw)
				continue
			}
		}

		if addr < e.log.Anchors().Head() {
			return e.parkUpsert(s, ctx, serial)
		}

		raw := e.log.Get(addr)
		layout := layoutAt(raw)
		hdr := layout.header().Load()

		if addr >= e.log.Anchors().ReadOnly() && !hdr.Tombstone() {
			if ipValue, ok := any(ctx.Value()).(kv.InPlaceValue); ok && ipValue.Size() == layout.valueSize() {
				valBytes := layout.valueBytes()
				gl := hlog.GenLockAt(valBytes)
				switch gl.TryLockGeneration() {
				case hlog.LockReplaced:
					continue
				case hlog.LockBusy:
					continue
				case hlog.LockAcquired:
					ctx.Value().Encode(valBytes)
					gl.UnlockGeneration(false)
					e.metrics.upserts.Inc()
					return hlkv.CodeOk, nil
				}
			}
		}

		newAddr, raw2 := e.appendRecord(key, ctx.Value(), addr, false)
		if e.idx.TryUpdate(hash, matches, addr, newAddr) {
			e.metrics.upserts.Inc()
			return hlkv.CodeOk, nil
		}
		e.invalidate(raw2)
	}
}

// Read implements spec.md §4.5's Read state machine.
func (e *Engine[K, V]) Read(s *Session, ctx ReadContext[K, V], serial uint64) (hlkv.Code, error) {
	e.checkSession(s)
	s.nextSerial(serial)
	s.guard.Protect()
	defer s.guard.Refresh()

	key := ctx.Key()
	hash := key.Hash64()
	matches := e.keyMatches(key)

	addr, found := e.idx.Lookup(hash, matches)
	if !found {
		ctx.Completed(zeroValue[V](), false)
		e.metrics.reads.Inc()
		return hlkv.CodeNotFound, nil
	}
	if addr < e.log.Anchors().Head() {
		return e.parkRead(s, ctx, serial)
	}

	raw := e.log.Get(addr)
	layout := layoutAt(raw)
	hdr := layout.header().Load()
	if hdr.Tombstone() {
		ctx.Completed(zeroValue[V](), false)
		e.metrics.reads.Inc()
		return hlkv.CodeNotFound, nil
	}

	var value V
	if addr >= e.log.Anchors().SafeReadOnly() {
		value = e.readAtomic(layout)
	} else {
		value = e.opts.DecodeValue(layout.valueBytes())
	}
	ctx.Completed(value, true)
	e.metrics.reads.Inc()
	return hlkv.CodeOk, nil
}

// readAtomic implements the reader protocol from spec.md §4.3: read the
// generation lock, copy the value bytes, read the lock again, and retry
// if the generation changed mid-copy.
func (e *Engine[K, V]) readAtomic(layout recordLayout) V {
	valBytes := layout.valueBytes()
	for {
		if _, ok := any(*new(V)).(kv.InPlaceValue); !ok {
			// V carries no generation lock at all: there is nothing to race
			// against in place, so a stable decode is already correct.
			return e.opts.DecodeValue(valBytes)
		}
		gl := hlog.GenLockAt(valBytes)
		g1 := gl.Snapshot()
		decoded := e.opts.DecodeValue(valBytes)
		g2 := gl.Snapshot()
		if hlog.GenNumber(g1) == hlog.GenNumber(g2) {
			return decoded
		}
	}
}

// RMW implements spec.md §4.5's RMW state machine.
func (e *Engine[K, V]) RMW(s *Session, ctx RMWContext[K, V], serial uint64) (hlkv.Code, error) {
	e.checkSession(s)
	s.nextSerial(serial)
	s.guard.Protect()
	defer s.guard.Refresh()

	key := ctx.Key()
	hash := key.Hash64()
	matches := e.keyMatches(key)

	for {
		addr, found := e.idx.Lookup(hash, matches)
		if !found {
			initial := ctx.InitialValue()
			newAddr, raw := e.appendRecord(key, initial, hlog.Null, false)
			if _, inserted := e.idx.TryInsert(hash, matches, newAddr); inserted {
				e.metrics.rmws.Inc()
				return hlkv.CodeOk, nil
			}
			// another session inserted this key first: drop the initial
			// record and retry, so the delta lands on top of its value.
			e.invalidate(raw)
			continue
		}

		if addr < e.log.Anchors().Head() {
			return e.parkRMW(s, ctx, serial)
		}

		raw := e.log.Get(addr)
		layout := layoutAt(raw)
		hdr := layout.header().Load()

		if addr >= e.log.Anchors().ReadOnly() && !hdr.Tombstone() {
			if zero := zeroValue[V](); isInPlace(zero) {
				valBytes := layout.valueBytes()
				gl := hlog.GenLockAt(valBytes)
				switch gl.TryLockGeneration() {
				case hlog.LockReplaced:
					continue
				case hlog.LockBusy:
					continue
				case hlog.LockAcquired:
					ip := any(e.opts.DecodeValue(valBytes)).(kv.InPlaceValue)
					if ip.TryUpdateInPlace(valBytes, ctx.Delta()) {
						gl.UnlockGeneration(false)
						e.metrics.rmws.Inc()
						return hlkv.CodeOk, nil
					}
					gl.UnlockGeneration(true)
				}
			}
		}

		old := e.opts.DecodeValue(layout.valueBytes())
		newValue := ctx.Apply(old)
		newAddr, raw2 := e.appendRecord(key, newValue, addr, false)
		if e.idx.TryUpdate(hash, matches, addr, newAddr) {
			e.metrics.rmws.Inc()
			return hlkv.CodeOk, nil
		}
		e.invalidate(raw2)
	}
}

// Delete implements spec.md §4.5's Delete: append a tombstone, never
// failing due to absence.
func (e *Engine[K, V]) Delete(s *Session, ctx DeleteContext[K], serial uint64) (hlkv.Code, error) {
	e.checkSession(s)
	s.nextSerial(serial)
	s.guard.Protect()
	defer s.guard.Refresh()

	key := ctx.Key()
	hash := key.Hash64()
	matches := e.keyMatches(key)

	for {
		addr, found := e.idx.Lookup(hash, matches)
		previous := hlog.Null
		if found {
			previous = addr
		}
		size := recordSize(key.Size(), 0)
		newAddr, raw := e.log.Allocate(size)
		layout := writeRecord(raw, previous, true, key.Encode, key.Size(), nil, 0)
		e.markIfInProgress(layout)
		e.metrics.observeRecordSize(int64(size))

		if !found {
			if _, inserted := e.idx.TryInsert(hash, matches, newAddr); inserted {
				e.metrics.deletes.Inc()
				return hlkv.CodeOk, nil
			}
			e.invalidate(raw)
			continue
		}
		if e.idx.TryUpdate(hash, matches, addr, newAddr) {
			e.metrics.deletes.Inc()
			return hlkv.CodeOk, nil
		}
		e.invalidate(raw)
	}
}

// GrowIndex doubles the hash index, rehashing every live key by
// decoding it straight from the log (spec.md §4.4).
func (e *Engine[K, V]) GrowIndex() bool {
	e.idx.Grow(func(addr hlog.Address) uint64 {
		return e.keyAt(addr).Hash64()
	})
	return true
}

func zeroValue[V any]() V {
	var v V
	return v
}

func isInPlace(v any) bool {
	_, ok := v.(kv.InPlaceValue)
	return ok
}
