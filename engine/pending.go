package engine

import (
	"github.com/marcbinz/hlkv"
)

// parkUpsert defers an Upsert whose target record has fallen below Head
// (spec.md §4.5's "pending" branch): without a configured Device there is
// nothing to read the record's on-disk previous version from, so the
// request is queued and later drained by CompletePending, which
// re-issues it only when opts.Device is set.
func (e *Engine[K, V]) parkUpsert(s *Session, ctx UpsertContext[K, V], serial uint64) (hlkv.Code, error) {
	op := &pendingOp{
		kind:   pendingUpsert,
		serial: serial,
		retry: func() bool {
			if e.opts.Device == nil {
				return false
			}
			code, err := e.Upsert(s, ctx, 0)
			return err == nil && code == hlkv.CodeOk
		},
	}
	s.pending.Push(op)
	e.metrics.pendingParked.Inc()
	return hlkv.CodePending, nil
}

func (e *Engine[K, V]) parkRead(s *Session, ctx ReadContext[K, V], serial uint64) (hlkv.Code, error) {
	op := &pendingOp{
		kind:   pendingRead,
		serial: serial,
		retry: func() bool {
			if e.opts.Device == nil {
				return false
			}
			code, err := e.Read(s, ctx, 0)
			return err == nil && (code == hlkv.CodeOk || code == hlkv.CodeNotFound)
		},
	}
	s.pending.Push(op)
	e.metrics.pendingParked.Inc()
	return hlkv.CodePending, nil
}

func (e *Engine[K, V]) parkRMW(s *Session, ctx RMWContext[K, V], serial uint64) (hlkv.Code, error) {
	op := &pendingOp{
		kind:   pendingRMW,
		serial: serial,
		retry: func() bool {
			if e.opts.Device == nil {
				return false
			}
			code, err := e.RMW(s, ctx, 0)
			return err == nil && code == hlkv.CodeOk
		},
	}
	s.pending.Push(op)
	e.metrics.pendingParked.Inc()
	return hlkv.CodePending, nil
}

// CompletePending drains every pending operation currently queued on s,
// re-issuing each one when opts.Device is set. An op whose retry fails
// with no Device configured is permanently undeliverable - there is
// nothing left to retry it against - and is dropped with a warning rather
// than requeued; no context interface has a failure callback to report it
// through, and ReadContext.Completed is not called for a dropped read.
// Running without a Device is the expected configuration (spec.md's
// external storage tier is explicitly out of scope); an op only reaches
// this path at all if the log wrapped around far enough to evict a
// record a session had not yet caught up to.
func (e *Engine[K, V]) CompletePending(s *Session, wait bool) int {
	completed := 0
	for {
		select {
		case op, ok := <-s.pending.Recv():
			if !ok || op == nil {
				return completed
			}
			if op.retry() {
				completed++
				s.persistentSerial.Store(op.serial)
			} else {
				e.metrics.pendingFailed.Inc()
				log.Warnf("session %s: pending op (serial=%d) dropped, no Device configured to resolve it", s.guid, op.serial)
			}
			if !wait && s.pending.Len() == 0 {
				return completed
			}
		default:
			return completed
		}
	}
}
