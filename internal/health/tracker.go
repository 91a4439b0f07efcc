package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fentz26/shipctl/internal/models"
)

// Probe is implemented by *Prober.
type Probe interface {
	Probe(ctx context.Context, url string, timeout time.Duration) models.HealthSample
}

// Target is one endpoint to probe.
type Target struct {
	Key     string
	URL     string
	Timeout time.Duration
}

// Tracker fans out probes and keeps the latest sample and a bounded latency
// history per key.
type Tracker struct {
	probe Probe
	size  int

	mu      sync.RWMutex
	samples map[string]models.HealthSample
	history map[string][]int64
}

// NewTracker creates a tracker keeping size latency values per key.
func NewTracker(probe Probe, size int) *Tracker {
	if size <= 0 {
		size = 10
	}
	return &Tracker{
		probe:   probe,
		size:    size,
		samples: make(map[string]models.HealthSample),
		history: make(map[string][]int64),
	}
}

// ProbeAll probes every target concurrently, each with its own timeout, and
// returns the new samples keyed by target key.
func (t *Tracker) ProbeAll(ctx context.Context, targets []Target) map[string]models.HealthSample {
	results := make(map[string]models.HealthSample, len(targets))
	var mu sync.Mutex

	var g errgroup.Group
	for _, target := range targets {
		g.Go(func() error {
			s := t.probe.Probe(ctx, target.URL, target.Timeout)
			if s.Status == models.HealthChecking {
				return nil
			}
			t.record(target.Key, s)
			mu.Lock()
			results[target.Key] = s
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}

func (t *Tracker) record(key string, s models.HealthSample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[key] = s
	h := append(t.history[key], s.LatencyMS)
	if len(h) > t.size {
		h = append([]int64(nil), h[len(h)-t.size:]...)
	}
	t.history[key] = h
}

// Sample returns the latest sample of key, or "checking" before the first
// completed probe.
func (t *Tracker) Sample(key string) models.HealthSample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.samples[key]; ok {
		return s
	}
	return models.HealthSample{Status: models.HealthChecking}
}

// History returns the latency history of key, oldest first.
func (t *Tracker) History(key string) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]int64{}, t.history[key]...)
}
