package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/marcbinz/hlkv"
	"github.com/marcbinz/hlkv/checkpoint"
	"github.com/marcbinz/hlkv/hlog"
	"github.com/marcbinz/hlkv/index"
)

// Checkpoint runs the full two-phase protocol from spec.md §4.7 and
// persists both artifacts under one token, so Recover always has a
// matching pair. CheckpointIndex and CheckpointLog below expose the two
// halves independently, each under its own token, for callers that only
// need one artifact refreshed.
func (e *Engine[K, V]) Checkpoint() (checkpoint.Token, error) {
	token := checkpoint.NewToken()
	if _, err := e.checkpointIndex(token); err != nil {
		return checkpoint.Zero, err
	}
	if _, err := e.checkpointLog(token); err != nil {
		return checkpoint.Zero, err
	}
	return token, nil
}

// CheckpointIndex persists a snapshot of the hash index under a fresh
// token, independent of any log checkpoint.
func (e *Engine[K, V]) CheckpointIndex() (checkpoint.Token, error) {
	return e.checkpointIndex(checkpoint.NewToken())
}

func (e *Engine[K, V]) checkpointIndex(token checkpoint.Token) (checkpoint.Token, error) {
	img := checkpoint.IndexImage{
		Bits:      e.idx.Bits(),
		Addresses: e.idx.Snapshot(),
	}
	return e.store.PutIndex(token, img)
}

// CheckpointLog drives the hybrid log's half of spec.md §4.7's phase
// machine: Prepare records every session's current serial, InProgress
// marks every record appended from now on in_new_version, WaitPending
// drains each session's pending queue so nothing checkpointed is still
// mid-flight, WaitFlush calls ShiftReadOnly and schedules SafeReadOnly to
// follow ReadOnly through BumpAndWait, and PersistenceCallback captures
// the resident suffix before returning the log to Rest. ShiftReadOnly
// moves ReadOnly only once Tail is more than the read-only lag ahead of
// it, so a checkpoint of a small log leaves ReadOnly where it was; WaitFlush
// does not block until SafeReadOnly has moved.
func (e *Engine[K, V]) CheckpointLog() (checkpoint.Token, error) {
	return e.checkpointLog(checkpoint.NewToken())
}

func (e *Engine[K, V]) checkpointLog(token checkpoint.Token) (checkpoint.Token, error) {
	e.checkpointMu.Lock()
	defer e.checkpointMu.Unlock()
	defer e.phase.Store(int32(checkpoint.PhaseRest))

	e.phase.Store(int32(checkpoint.PhasePrepare))
	version := e.version.Add(1)

	var sessions []checkpoint.SessionSerial
	e.sessions.Range(func(_ uuid.UUID, s *Session) bool {
		sessions = append(sessions, checkpoint.SessionSerial{GUID: s.guid, Serial: s.serial.Load()})
		return true
	})

	e.epochs.BumpAndWait(func() {
		e.phase.CompareAndSwap(int32(checkpoint.PhasePrepare), int32(checkpoint.PhaseInProgress))
	})

	e.phase.Store(int32(checkpoint.PhaseWaitPending))
	e.sessions.Range(func(_ uuid.UUID, s *Session) bool {
		e.CompletePending(s, true)
		return true
	})

	e.phase.Store(int32(checkpoint.PhaseWaitFlush))
	tail := e.log.Anchors().Tail()
	e.log.ShiftReadOnly()
	e.epochs.BumpAndWait(func() {
		e.log.MarkSafeReadOnly(e.log.Anchors().ReadOnly())
	})

	e.phase.Store(int32(checkpoint.PhasePersistenceCallback))
	anchors := e.log.Anchors()
	img := checkpoint.LogImage{
		Begin:            anchors.Begin(),
		Head:             anchors.Head(),
		ReadOnly:         anchors.ReadOnly(),
		TailAtCheckpoint: tail,
		Version:          version,
		Sessions:         sessions,
		Suffix:           e.log.ReadSuffix(anchors.Head(), tail),
	}
	return e.store.PutLog(token, img)
}

// Recover restores index and log state from a previously captured pair
// of checkpoints: the log image's resident suffix is replayed back into
// the page ring, then the index is rebuilt either from its own image
// (when indexToken names one) or, failing that, from a full walk of the
// replayed suffix - the index is never more than a cache of "where is
// this key's newest record", so it is always reconstructible from the
// log alone.
func (e *Engine[K, V]) Recover(indexToken, logToken checkpoint.Token) (checkpoint.RecoverResult, error) {
	e.checkpointMu.Lock()
	defer e.checkpointMu.Unlock()

	logImg, ok, err := e.store.GetLog(logToken)
	if err != nil {
		return checkpoint.RecoverResult{}, err
	}
	if !ok {
		return checkpoint.RecoverResult{}, hlkv.NewError(hlkv.CodeNotFound, fmt.Sprintf("no log checkpoint for token %s", logToken))
	}

	e.log.RestoreSuffix(logImg.Begin, logImg.Head, logImg.ReadOnly, logImg.TailAtCheckpoint, logImg.Suffix)
	e.version.Store(logImg.Version)

	e.idx = nil
	if !indexToken.IsZero() {
		if indexImg, found, err := e.store.GetIndex(indexToken); err != nil {
			return checkpoint.RecoverResult{}, err
		} else if found {
			e.idx = index.Rebuild(indexImg.Bits, indexImg.Addresses, func(addr hlog.Address) uint64 {
				return e.keyAt(addr).Hash64()
			})
		}
	}
	if e.idx == nil {
		e.idx = e.rebuildIndexFromLog(logImg.Head, logImg.TailAtCheckpoint)
	}

	result := checkpoint.RecoverResult{Version: logImg.Version, Sessions: logImg.Sessions}
	e.phase.Store(int32(checkpoint.PhaseRest))
	return result, nil
}

// rebuildIndexFromLog replays every record in [begin, end) through the
// same TryInsert/TryUpdate protocol Upsert/RMW/Delete use, in log order,
// so a key's last record wins exactly as it would have during normal
// operation. Tombstones are replayed too: the index carries an entry for
// a deleted key right up until its record ages out, same as it does
// outside recovery.
func (e *Engine[K, V]) rebuildIndexFromLog(begin, end hlog.Address) *index.Index {
	idx := index.New(e.opts.indexBits())
	pageSize := e.log.PageSize()

	for cur := begin; cur < end; {
		raw := e.log.Get(cur)
		hdr := hlog.HeaderAt(raw).Load()
		if hdr.EndOfPage() {
			cur = hlog.Address((cur.Page(pageSize) + 1) * pageSize)
			continue
		}

		layout := layoutAt(raw)
		addr := cur
		cur += hlog.Address(recordSize(layout.keySize(), layout.valueSize()))
		if hdr.Invalid() {
			continue
		}

		key := e.opts.DecodeKey(layout.keyBytes())
		hash := key.Hash64()
		matches := e.keyMatches(key)
		if conflict, inserted := idx.TryInsert(hash, matches, addr); !inserted {
			idx.TryUpdate(hash, matches, conflict, addr)
		}
	}
	return idx
}
