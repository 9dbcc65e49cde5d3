package hlog

import (
	"sync"
	"sync/atomic"

	"github.com/marcbinz/hlkv/epoch"
)

// Options configures a Log's geometry. All three fields describe the
// allocator, not any particular key/value type; record sizes are decided
// by the engine and kv packages built on top of this package.
type Options struct {
	// PageSize is the size, in bytes, of one resident page. Must be a
	// power of two. Records may not exceed PageSize.
	PageSize uint64
	// NumPages is the number of pages (k) kept resident in memory at
	// once; Log.Head trails Log.Tail by at most NumPages pages.
	NumPages int
	// MutableFraction is the fraction of resident pages, counted back
	// from the tail, in which in-place updates are permitted. Pages
	// older than this fraction are read-only: updates to records there
	// must append a new record (copy-on-grow) instead of mutating in
	// place. Matches spec.md §3's read_only boundary.
	MutableFraction float64
}

// firstAddress is where the very first record lands: nonzero (0 stays the
// Null sentinel) and 8-byte aligned, the same granularity every record
// size is aligned to.
const firstAddress = 8

func (o Options) readOnlyLagBytes() uint64 {
	mutableBytes := float64(uint64(o.NumPages)*o.PageSize) * o.MutableFraction
	total := uint64(o.NumPages) * o.PageSize
	lag := total - uint64(mutableBytes)
	if lag < o.PageSize {
		return o.PageSize
	}
	return lag
}

// Log is the hybrid log allocator (C2 in spec.md §4.2): a circular buffer
// of resident pages fronted by five monotonic address anchors
// (Anchors.Begin/Head/SafeReadOnly/ReadOnly/Tail). Everything below
// ReadOnly is immutable; everything below SafeReadOnly has additionally
// been observed safe by every active epoch Guard and so is eligible for
// eviction once Head advances past it.
type Log struct {
	opts    Options
	anchors Anchors
	ring    *pageRing
	epochs  *epoch.Table

	mu sync.Mutex // serializes anchor-advance decisions (not allocation)

	flushedThrough atomic.Uint64 // highest address known persisted, for checkpoint bookkeeping
}

// NewLog creates an allocator whose resident-page ring is fully
// initialized up front (see pageRing's doc comment on the fix for the
// lazy-initialization ring bug), starting empty at address 8
// (firstAddress) so that 0 remains reserved as Null.
func NewLog(epochs *epoch.Table, opts Options) *Log {
	l := &Log{
		opts:   opts,
		ring:   newPageRing(opts.NumPages, opts.PageSize),
		epochs: epochs,
	}
	// start at offset 8 within page 0: address 0 is reserved as Null, so
	// the very first real record cannot land there. 8 rather than 1 keeps
	// every subsequent allocation 8-byte aligned within page 0 too, which
	// allocatePage's page-crossing padding relies on (see stampPadding).
	l.anchors.begin.Store(firstAddress)
	l.anchors.head.Store(firstAddress)
	l.anchors.safeReadOnly.Store(firstAddress)
	l.anchors.readOnly.Store(firstAddress)
	l.anchors.tail.Store(firstAddress)
	return l
}

// Anchors exposes the allocator's address boundaries.
func (l *Log) Anchors() *Anchors { return &l.anchors }

// PageSize returns the configured resident-page size.
func (l *Log) PageSize() uint64 { return l.opts.PageSize }

// Allocate reserves size bytes for a new record and returns its address
// together with a byte slice of length size backed by the resident page
// buffer; the caller fills it in directly (this is the only way records
// enter the log). The returned slice must not be retained past the
// record's eviction.
//
// Allocate blocks (via pageRing.reserve) if it needs a page slot that is
// still occupied by a not-yet-evicted older page; ShiftHeadunblocks such
// waiters once it is safe to recycle that slot.
func (l *Log) Allocate(size uint64) (Address, []byte) {
	start, padStart, padLen := l.anchors.allocatePage(l.opts.PageSize, size)
	if padLen > 0 {
		l.stampPadding(padStart, padLen)
	}
	pageNum := start.Page(l.opts.PageSize)

	slot := l.ring.reserve(pageNum, func() uint64 { return l.anchors.Head().Page(l.opts.PageSize) }, nil)
	off := start.Offset(l.opts.PageSize)
	return start, slot.buf[off : off+size]
}

// stampPadding writes an end-of-page sentinel into the span wasted when a
// record would have straddled a page boundary. padStart's page is the one
// being abandoned, already resident from the allocation that is now
// skipping past it, so this never blocks on pageRing.reserve. A sequential
// walker (Iterator.GetNext, checkpoint log replay) that lands on padStart
// sees EndOfPage and jumps straight to the next page instead of
// misreading the gap as a record.
func (l *Log) stampPadding(padStart Address, padLen uint64) {
	pageNum := padStart.Page(l.opts.PageSize)
	slot := l.ring.slotFor(pageNum)
	off := padStart.Offset(l.opts.PageSize)
	HeaderAt(slot.buf[off : off+padLen]).Store(NewEndOfPageHeader())
}

// Get returns the byte slice for a previously allocated record at addr.
// The caller must hold an epoch.Guard in the protected state for the
// duration of use, and addr must be >= Head() - dereferencing an address
// below Head is a contract violation, since that page slot may already
// be recycled.
func (l *Log) Get(addr Address) []byte {
	pageNum := addr.Page(l.opts.PageSize)
	slot := l.ring.slotFor(pageNum)
	off := addr.Offset(l.opts.PageSize)
	return slot.buf[off:]
}

// ShiftReadOnly advances the boundary below which in-place updates are
// forbidden, to Tail minus the read-only lag that the configured
// MutableFraction of resident pages gives; while Tail is no more than
// that lag, it does nothing. Only the engine's CheckpointLog calls it,
// so allocation alone never moves ReadOnly. spec.md §4.4 requires every record-update path to re-check
// ReadOnly after acquiring any lock, since this can move concurrently.
func (l *Log) ShiftReadOnly() {
	tail := l.anchors.Tail()
	lag := l.opts.readOnlyLagBytes()
	if uint64(tail) <= lag {
		return
	}
	newReadOnly := Address(uint64(tail) - lag)
	l.anchors.advanceReadOnly(newReadOnly)
}

// MarkSafeReadOnly advances SafeReadOnly to addr. The engine calls this
// once an epoch.Table.BumpAndWait action confirms every Guard active when
// ReadOnly last moved has refreshed, meaning no session can still be
// mid-update against a record now below ReadOnly.
func (l *Log) MarkSafeReadOnly(addr Address) {
	l.anchors.advanceSafeReadOnly(addr)
	l.ring.markFlushed(addr.Page(l.opts.PageSize))
}

// ShiftHead evicts resident pages below addr once it is epoch-safe to do
// so: it schedules a drain action that, once every active Guard has
// refreshed past the current epoch, advances Head and wakes any Allocate
// call blocked waiting for a page slot. newHead must not exceed
// SafeReadOnly.
func (l *Log) ShiftHead(newHead Address) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if newHead > l.anchors.SafeReadOnly() {
		newHead = l.anchors.SafeReadOnly()
	}
	if newHead <= l.anchors.Head() {
		return
	}
	l.epochs.BumpAndWait(func() {
		l.anchors.advanceHead(newHead)
		l.ring.evictBehind(newHead.Page(l.opts.PageSize))
	})
}

// ReadSuffix copies the resident bytes in [begin, end) into a single
// contiguous slice, crossing however many resident pages that spans.
// Used by checkpoint.WriteLogImage, which needs one flat byte range to
// persist rather than per-page buffers. Every address in the range must
// be >= Head.
func (l *Log) ReadSuffix(begin, end Address) []byte {
	if end <= begin {
		return nil
	}
	out := make([]byte, 0, uint64(end-begin))
	for cur := begin; cur < end; {
		pageNum := cur.Page(l.opts.PageSize)
		off := cur.Offset(l.opts.PageSize)
		remaining := uint64(end - cur)
		avail := l.opts.PageSize - off
		n := remaining
		if avail < n {
			n = avail
		}
		slot := l.ring.slotFor(pageNum)
		out = append(out, slot.buf[off:off+n]...)
		cur += Address(n)
	}
	return out
}

// RestoreSuffix installs a log suffix captured by ReadSuffix back into
// the resident page ring and sets every anchor to match the checkpoint
// it came from. Recover calls this; it uses pageRing.forceInstall and so
// never waits for a slot, and it does not check whether sessions are open.
// Ordinary allocation uses pageRing.reserve instead, which would block
// waiting for a Head advance that will never happen here.
func (l *Log) RestoreSuffix(begin, head, readOnly, tail Address, suffix []byte) {
	for cur, off := head, 0; cur < tail; {
		pageNum := cur.Page(l.opts.PageSize)
		pageOff := cur.Offset(l.opts.PageSize)
		n := l.opts.PageSize - pageOff
		if remaining := uint64(tail - cur); n > remaining {
			n = remaining
		}
		slot := l.ring.forceInstall(pageNum)
		copy(slot.buf[pageOff:pageOff+n], suffix[off:off+int(n)])
		cur += Address(n)
		off += int(n)
	}
	l.anchors.begin.Store(begin)
	l.anchors.head.Store(head)
	l.anchors.safeReadOnly.Store(readOnly)
	l.anchors.readOnly.Store(readOnly)
	l.anchors.tail.Store(tail)
}

// Truncate advances Begin, permanently discarding the ability to read
// addresses below addr. It never runs ahead of Head. Nothing in the
// module calls it.
func (l *Log) Truncate(addr Address) {
	if addr > l.anchors.Head() {
		addr = l.anchors.Head()
	}
	l.anchors.advanceBegin(addr)
}
