package hlog

import (
	"testing"
	"time"

	"github.com/marcbinz/hlkv/epoch"
)

func testOptions() Options {
	return Options{PageSize: 256, NumPages: 4, MutableFraction: 0.5}
}

func TestLogAllocateAndGetRoundTrip(t *testing.T) {
	table := epoch.New()
	log := NewLog(table, testOptions())

	addr, buf := log.Allocate(16)
	copy(buf, []byte("0123456789abcdef"))

	g := table.Acquire()
	g.Protect()
	got := log.Get(addr)[:16]
	g.Release()

	if string(got) != "0123456789abcdef" {
		t.Fatalf("Get() = %q, want original bytes", got)
	}
}

func TestLogAllocateNeverSpansPageBoundary(t *testing.T) {
	table := epoch.New()
	opts := testOptions()
	log := NewLog(table, opts)

	// drain most of page 0 (it starts at offset 8, reserved Null slot).
	log.Allocate(opts.PageSize - 20)
	addr, _ := log.Allocate(32) // does not fit in what's left of page 0

	if addr.Page(opts.PageSize) == Address(0).Page(opts.PageSize) {
		// only fails if it landed in page 0 despite not fitting
		startOfPage0 := log.anchors.Tail()
		t.Fatalf("record of size 32 placed inside page 0 near boundary, tail=%v", startOfPage0)
	}
	if addr.Offset(opts.PageSize) != 0 {
		t.Fatalf("record crossing a page boundary should start at offset 0 of the next page, got offset %d", addr.Offset(opts.PageSize))
	}
}

func TestLogShiftHeadUnblocksAllocate(t *testing.T) {
	table := epoch.New()
	opts := testOptions()
	log := NewLog(table, opts)

	// fill every resident page slot exactly, so the ring has no free slot
	// left: the first allocation accounts for page 0's reserved 8-byte
	// offset, every later one fills a fresh page-aligned page completely.
	log.Allocate(opts.PageSize - 8)
	for i := 1; i < opts.NumPages; i++ {
		log.Allocate(opts.PageSize)
	}

	log.ShiftReadOnly()
	log.MarkSafeReadOnly(log.anchors.ReadOnly())

	done := make(chan struct{})
	go func() {
		log.Allocate(8) // needs page NumPages, must wait for slot 0 to free
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Allocate returned before ShiftHead freed a slot")
	case <-time.After(30 * time.Millisecond):
	}

	log.ShiftHead(log.anchors.SafeReadOnly())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Allocate did not unblock after ShiftHead")
	}
}
