package epoch

import (
	"sync"
	"testing"
	"time"
)

func TestProtectDefersDrainUntilRefresh(t *testing.T) {
	table := New()
	g := table.Acquire()
	defer g.Release()

	g.Protect()
	ranAt := uint64(0)
	table.BumpAndWait(func() { ranAt = table.CurrentEpoch() })

	// the guard still protects the old epoch, so the action must not have
	// run yet.
	if ranAt != 0 {
		t.Fatalf("drain action ran before guard refreshed")
	}

	g.Refresh()
	if ranAt == 0 {
		t.Fatalf("drain action did not run after guard refreshed past target epoch")
	}
}

func TestBumpAndWaitRunsOnceAcrossManySessions(t *testing.T) {
	table := New()
	const n = 16

	guards := make([]*Guard, n)
	for i := range guards {
		guards[i] = table.Acquire()
		guards[i].Protect()
	}

	var runs int
	var mu sync.Mutex
	table.BumpAndWait(func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for _, g := range guards {
		wg.Add(1)
		go func(g *Guard) {
			defer wg.Done()
			g.Refresh()
		}(g)
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		r := runs
		mu.Unlock()
		if r == 1 {
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatalf("expected drain action to run exactly once, ran %d times", runs)
	}

	for _, g := range guards {
		g.Release()
	}
}

func TestCancel(t *testing.T) {
	table := New()
	g := table.Acquire()
	defer g.Release()
	g.Protect()

	ran := false
	id := table.BumpAndWait(func() { ran = true })

	if !table.Cancel(id) {
		t.Fatalf("expected Cancel to succeed on a still-pending action")
	}

	g.Refresh()
	if ran {
		t.Fatalf("cancelled action still ran")
	}
}

func TestReleaseAllowsDrain(t *testing.T) {
	table := New()
	g1 := table.Acquire()
	g2 := table.Acquire()
	defer g2.Release()

	g1.Protect()
	ran := false
	table.BumpAndWait(func() { ran = true })

	g1.Release() // releasing an unprotected-or-protected guard also drains
	g2.Refresh()
	if !ran {
		t.Fatalf("expected drain action to run after the blocking guard released")
	}
}
