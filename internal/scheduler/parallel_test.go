package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fentz26/shipctl/internal/clock"
)

// TestParallelCallersNeverOverlap hammers the scheduler from many goroutines
// and verifies that no two refresh cycles ever run at the same time.
func TestParallelCallersNeverOverlap(t *testing.T) {
	var running, maxRunning, total atomic.Int32

	sch := New(func(ctx context.Context, full bool) {
		n := running.Add(1)
		for {
			cur := maxRunning.Load()
			if n <= cur || maxRunning.CompareAndSwap(cur, n) {
				break
			}
		}
		total.Add(1)
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
	}, nil, clock.Real())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if i%2 == 0 {
					sch.Tick(context.Background())
				} else {
					sch.Request(j%3 == 0)
				}
			}
		}(i)
	}
	wg.Wait()
	// Stop waits for background cycles started by Request.
	sch.Stop()

	if got := maxRunning.Load(); got != 1 {
		t.Errorf("max concurrent cycles = %d, want 1", got)
	}
	stats := sch.GetStats()
	if int32(stats.Cycles) < total.Load() {
		t.Errorf("stats cycles %d < observed %d", stats.Cycles, total.Load())
	}
	if stats.Cycles+stats.Skipped != 200 {
		t.Errorf("cycles+skipped = %d, want 200", stats.Cycles+stats.Skipped)
	}
}
