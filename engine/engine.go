// Package engine implements the operation engine (C5), session and
// pending-I/O protocol (C6), and in-memory scan iterator (C8) described
// in spec.md §4.5, §4.6, §4.8. It threads Upsert/Read/RMW/Delete through
// the hash index (index.Index) and hybrid log (hlog.Log), choosing
// in-place mutation under a record's generation lock versus
// copy-on-grow exactly as spec.md §4.5 describes.
package engine

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/marcbinz/hlkv"
	"github.com/marcbinz/hlkv/checkpoint"
	"github.com/marcbinz/hlkv/epoch"
	"github.com/marcbinz/hlkv/hlog"
	"github.com/marcbinz/hlkv/index"
	"github.com/marcbinz/hlkv/internal/logctx"
	"github.com/marcbinz/hlkv/kv"
)

var log = logctx.Get("engine")

// Engine is the generic operation engine over a key type K and value
// type V. It is safe for concurrent use by many goroutines, each
// through its own Session.
type Engine[K kv.Key, V kv.Value] struct {
	opts   Options[K, V]
	log    *hlog.Log
	idx    *index.Index
	epochs *epoch.Table

	sessions *xsync.MapOf[uuid.UUID, *Session]

	metrics *metricsSet

	store        *checkpoint.Store
	checkpointMu sync.Mutex
	phase        atomic.Int32
	version      atomic.Uint64
}

// Open creates a new in-memory engine. opts.DecodeKey and
// opts.DecodeValue must be set; every other field has a usable zero
// value via DefaultOptions.
func Open[K kv.Key, V kv.Value](opts Options[K, V]) (*Engine[K, V], error) {
	if opts.DecodeKey == nil || opts.DecodeValue == nil {
		return nil, hlkv.NewError(hlkv.CodeInvalidOperation, "Options.DecodeKey and Options.DecodeValue are required")
	}
	if opts.PageSize == 0 || opts.LogByteCapacity < 2*opts.PageSize {
		return nil, hlkv.NewError(hlkv.CodeInvalidOperation, "LogByteCapacity must be at least 2*PageSize")
	}

	log.Infof("opening engine: logCapacity=%d pageSize=%d indexBits=%d", opts.LogByteCapacity, opts.PageSize, opts.indexBits())
	epochs := epoch.New()
	e := &Engine[K, V]{
		opts:     opts,
		log:      hlog.NewLog(epochs, opts.logOptions()),
		idx:      index.New(opts.indexBits()),
		epochs:   epochs,
		sessions: xsync.NewMapOf[uuid.UUID, *Session](),
		metrics:  newMetricsSet(),
		store:    checkpoint.NewStore(),
	}
	return e, nil
}

// Close closes every open session through CloseSession, which drains its
// pending queue and releases its epoch entry.
func (e *Engine[K, V]) Close() error {
	e.sessions.Range(func(_ uuid.UUID, s *Session) bool {
		e.CloseSession(s)
		return true
	})
	return nil
}

// OpenSession registers a new session with a fresh GUID and epoch entry.
func (e *Engine[K, V]) OpenSession() *Session {
	s := newSession(e.epochs.Acquire())
	e.sessions.Store(s.guid, s)
	e.metrics.sessionsOpened.Inc()
	log.Debugf("session %s opened", s.guid)
	return s
}

// ContinueSession resumes a previously known session after recovery under
// guid, with lastSerial as both its current and persistent serial number,
// and returns the new Session.
func (e *Engine[K, V]) ContinueSession(guid uuid.UUID, lastSerial uint64) *Session {
	s := newSession(e.epochs.Acquire())
	s.guid = guid
	s.serial.Store(lastSerial)
	s.persistentSerial.Store(lastSerial)
	e.sessions.Store(s.guid, s)
	return s
}

// CloseSession drains the session's pending queue and releases its
// epoch entry.
func (e *Engine[K, V]) CloseSession(s *Session) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	completed := e.CompletePending(s, true)
	s.pending.Close()
	s.guard.Release()
	e.sessions.Delete(s.guid)
	log.Debugf("session %s closed, %d pending ops drained", s.guid, completed)
}

// Refresh re-publishes the session's local epoch and drains any
// newly-safe epoch actions, per spec.md §4.1/§4.6.
func (e *Engine[K, V]) Refresh(s *Session) {
	s.guard.Refresh()
}

// Size returns the total log bytes allocated so far (tail - begin), a
// cheap proxy for the number of resident bytes of data.
func (e *Engine[K, V]) Size() uint64 {
	return uint64(e.log.Anchors().Tail() - e.log.Anchors().Begin())
}

// IndexBucketCount reports the hash index's current bucket count, for
// callers (and demos) that want to observe GrowIndex's effect directly.
func (e *Engine[K, V]) IndexBucketCount() uint64 {
	return e.idx.NumBuckets()
}

// Anchors exposes the log's address boundaries, so a caller can bound a
// ScanInMemory call over the entire currently-resident range without
// reaching into the hlog package directly.
func (e *Engine[K, V]) Anchors() *hlog.Anchors {
	return e.log.Anchors()
}

// WriteMetrics writes every counter this engine tracks in Prometheus
// exposition format, the same format VictoriaMetrics/metrics always
// produces, followed by the record-size histogram's current percentile
// readout as comment lines. cmd/hlkvd's serve command mounts this behind
// /metrics.
func (e *Engine[K, V]) WriteMetrics(w io.Writer) {
	e.metrics.set.WritePrometheus(w)

	snap := e.metrics.recordSizes.Snapshot()
	ps := snap.Percentiles([]float64{0.5, 0.9, 0.99})
	fmt.Fprintf(w, "# hlkv_record_size_bytes count=%d mean=%.1f p50=%.1f p90=%.1f p99=%.1f\n",
		snap.Count(), snap.Mean(), ps[0], ps[1], ps[2])
}

func (e *Engine[K, V]) checkSession(s *Session) {
	if s == nil || s.closed.Load() {
		hlkv.Violate("operation issued on a closed or nil session")
	}
}

// keyAt decodes the key stored at addr. The caller must hold an active
// epoch guard.
func (e *Engine[K, V]) keyAt(addr hlog.Address) K {
	raw := e.log.Get(addr)
	return e.opts.DecodeKey(layoutAt(raw).keyBytes())
}

func (e *Engine[K, V]) keyMatches(key K) func(hlog.Address) bool {
	return func(addr hlog.Address) bool {
		return e.keyAt(addr).Equal(key)
	}
}

// appendRecord allocates and writes a brand new record for key/value
// with the given previous back-pointer, returning its address and raw
// bytes.
func (e *Engine[K, V]) appendRecord(key K, value V, previous hlog.Address, tombstone bool) (hlog.Address, []byte) {
	size := recordSize(key.Size(), value.Size())
	addr, raw := e.log.Allocate(size)
	layout := writeRecord(raw, previous, tombstone, key.Encode, key.Size(), value.Encode, value.Size())
	e.markIfInProgress(layout)
	e.metrics.observeRecordSize(int64(size))
	return addr, raw
}

// markIfInProgress sets a freshly written record's in_new_version bit
// when a checkpoint is past its Prepare phase (spec.md §4.7 phase 2):
// "any record appended from now is marked in_new_version=1". No CAS race
// is possible here - the record was just written by this goroutine and
// is not yet visible to any other (it is linked into the index only
// after this call returns).
func (e *Engine[K, V]) markIfInProgress(layout recordLayout) {
	if p := checkpoint.Phase(e.phase.Load()); p == checkpoint.PhaseRest || p == checkpoint.PhasePrepare {
		return
	}
	hdr := layout.header()
	hdr.Store(hdr.Load().WithInNewVersion(true))
}

// relinkPrevious rewrites an already-written (but not yet linked)
// record's previous-address back-pointer, used when a concurrent insert
// won the race for a brand new key and this record must become an
// update instead.
func (e *Engine[K, V]) relinkPrevious(raw []byte, previous hlog.Address) {
	hdr := layoutAt(raw).header()
	for {
		old := hdr.Load()
		if hdr.CAS(old, old.WithPreviousAddress(previous)) {
			return
		}
	}
}

// invalidate marks an orphaned, never-linked record invalid so
// ScanInMemory skips it.
func (e *Engine[K, V]) invalidate(raw []byte) {
	hdr := layoutAt(raw).header()
	for {
		old := hdr.Load()
		if hdr.CAS(old, old.WithInvalid(true)) {
			return
		}
	}
}
