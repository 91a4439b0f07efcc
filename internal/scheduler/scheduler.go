package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/shipctl/internal/clock"
)

// RefreshFunc performs one refresh cycle. full requests directory
// re-resolution before polling.
type RefreshFunc func(ctx context.Context, full bool)

// Scheduler runs refresh cycles on a ticker and on demand. At most one cycle
// runs at a time; requests arriving while a cycle is in flight are dropped.
type Scheduler struct {
	refresh RefreshFunc
	config  *Config
	clock   clock.Clock

	inFlight atomic.Bool
	pending  atomic.Bool

	mu           sync.Mutex
	cycles       int
	skipped      int
	lastStarted  time.Time
	lastFinished time.Time
	lastFull     bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler.
func New(refresh RefreshFunc, cfg *Config, clk clock.Clock) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if clk == nil {
		clk = clock.Real()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		refresh: refresh,
		config:  cfg,
		clock:   clk,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.loop()
	log.Printf("Scheduler started (interval %s)", sch.config.Interval)
}

// Stop cancels in-flight cycles and waits for them to return.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	log.Println("Scheduler stopped")
}

func (sch *Scheduler) loop() {
	defer sch.wg.Done()

	if sch.config.Immediate {
		sch.run(sch.ctx, true)
	}

	ticker := sch.clock.NewTicker(sch.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.run(sch.ctx, false)
		}
	}
}

// Tick runs a regular cycle synchronously. It returns false if another
// cycle was in flight and nothing ran.
func (sch *Scheduler) Tick(ctx context.Context) bool {
	return sch.run(ctx, false)
}

// FullRefresh runs a cycle with directory re-resolution synchronously.
func (sch *Scheduler) FullRefresh(ctx context.Context) bool {
	return sch.run(ctx, true)
}

// Request starts a cycle in the background. The in-flight guard is taken
// before Request returns, so a false result means the request was dropped.
func (sch *Scheduler) Request(full bool) bool {
	if sch.ctx.Err() != nil {
		return false
	}
	if !sch.acquire() {
		return false
	}

	sch.wg.Add(1)
	go func() {
		defer sch.wg.Done()
		sch.cycle(sch.ctx, full)
	}()
	return true
}

// Ensure runs a full cycle now, or as soon as the cycle in flight returns.
// Pending requests collapse into one cycle.
func (sch *Scheduler) Ensure() {
	sch.pending.Store(true)
	sch.drain()
}

// drain starts the pending full cycle if the guard is free. A cycle holding
// the guard calls drain again when it releases it.
func (sch *Scheduler) drain() {
	for sch.pending.Load() && sch.ctx.Err() == nil {
		if !sch.inFlight.CompareAndSwap(false, true) {
			return
		}
		if !sch.pending.Swap(false) {
			sch.inFlight.Store(false)
			continue
		}
		sch.wg.Add(1)
		go func() {
			defer sch.wg.Done()
			sch.cycle(sch.ctx, true)
		}()
		return
	}
}

// InFlight reports whether a cycle is currently running.
func (sch *Scheduler) InFlight() bool {
	return sch.inFlight.Load()
}

func (sch *Scheduler) run(ctx context.Context, full bool) bool {
	if !sch.acquire() {
		return false
	}
	sch.cycle(ctx, full)
	return true
}

func (sch *Scheduler) acquire() bool {
	if sch.inFlight.CompareAndSwap(false, true) {
		return true
	}
	sch.mu.Lock()
	sch.skipped++
	sch.mu.Unlock()
	return false
}

// cycle runs the refresh with the guard held and releases it on every exit.
func (sch *Scheduler) cycle(ctx context.Context, full bool) {
	defer sch.drain()
	defer sch.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Refresh cycle panicked: %v", r)
		}
		sch.mu.Lock()
		sch.lastFinished = sch.clock.Now()
		sch.mu.Unlock()
	}()

	sch.mu.Lock()
	sch.cycles++
	sch.lastStarted = sch.clock.Now()
	sch.lastFull = full
	sch.mu.Unlock()

	sch.refresh(ctx, full)
}

// Stats is a point-in-time view of scheduler activity.
type Stats struct {
	Cycles       int       `json:"cycles"`
	Skipped      int       `json:"skipped"`
	InFlight     bool      `json:"in_flight"`
	LastStarted  time.Time `json:"last_started"`
	LastFinished time.Time `json:"last_finished"`
	LastFull     bool      `json:"last_full"`
	Interval     string    `json:"interval"`
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	return Stats{
		Cycles:       sch.cycles,
		Skipped:      sch.skipped,
		InFlight:     sch.inFlight.Load(),
		LastStarted:  sch.lastStarted,
		LastFinished: sch.lastFinished,
		LastFull:     sch.lastFull,
		Interval:     sch.config.Interval.String(),
	}
}
