// Package runs polls workflow runs and derives workflow state from them.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fentz26/shipctl/internal/github"
	"github.com/fentz26/shipctl/internal/models"
)

// maxConcurrentPolls bounds the fan-out of PollAll.
const maxConcurrentPolls = 8

// Lister lists the newest runs of a workflow.
type Lister interface {
	ListWorkflowRuns(ctx context.Context, workflowID int64, perPage int) ([]github.WorkflowRun, error)
}

// Tracker caches the relevant runs of every workflow. A failed poll keeps
// the last successfully polled runs of that workflow.
type Tracker struct {
	perPage int
	logger  *slog.Logger

	mu    sync.RWMutex
	epoch uint64
	cache map[string][]models.RunRecord
}

// NewTracker creates a tracker fetching perPage runs per poll.
func NewTracker(perPage int, logger *slog.Logger) *Tracker {
	if perPage <= 0 {
		perPage = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		perPage: perPage,
		logger:  logger,
		cache:   make(map[string][]models.RunRecord),
	}
}

// PollActiveRuns fetches the newest runs of wf and returns every queued or
// in-progress run, newest first. With none active it returns the single most
// recent run. On failure the cached runs are returned along with the error.
// Runs fetched across a Reset are returned but not cached.
func (t *Tracker) PollActiveRuns(ctx context.Context, lister Lister, wf models.WorkflowDescriptor) ([]models.RunRecord, error) {
	if !wf.Resolved() {
		return nil, fmt.Errorf("workflow %s is not resolved", wf.LogicalName)
	}

	t.mu.RLock()
	epoch := t.epoch
	t.mu.RUnlock()

	remote, err := lister.ListWorkflowRuns(ctx, wf.RemoteID, t.perPage)
	if err != nil {
		return t.Runs(wf.LogicalName), fmt.Errorf("polling %s: %w", wf.LogicalName, err)
	}

	records := make([]models.RunRecord, 0, len(remote))
	for _, run := range remote {
		records = append(records, run.Record(wf.LogicalName))
	}
	relevant := Relevant(records)

	t.mu.Lock()
	if t.epoch == epoch {
		t.cache[wf.LogicalName] = relevant
	}
	t.mu.Unlock()

	return cloneRuns(relevant), nil
}

// PollAll polls every workflow concurrently. Errors of individual workflows
// are joined; the other workflows are still updated.
func (t *Tracker) PollAll(ctx context.Context, lister Lister, workflows map[string]models.WorkflowDescriptor) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPolls)
	for _, wf := range workflows {
		g.Go(func() error {
			if _, err := t.PollActiveRuns(gctx, lister, wf); err != nil {
				t.logger.Warn("run poll failed", "workflow", wf.LogicalName, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}

// Runs returns the cached runs of a workflow.
func (t *Tracker) Runs(name string) []models.RunRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneRuns(t.cache[name])
}

// ActiveRuns returns every cached queued or in-progress run.
func (t *Tracker) ActiveRuns() []models.RunRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active []models.RunRecord
	for _, runs := range t.cache {
		for _, run := range runs {
			if run.Status.Active() {
				active = append(active, run)
			}
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].WorkflowRef != active[j].WorkflowRef {
			return active[i].WorkflowRef < active[j].WorkflowRef
		}
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active
}

// Find returns the cached run with the given id.
func (t *Tracker) Find(runID int64) (models.RunRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, runs := range t.cache {
		for _, run := range runs {
			if run.ID == runID {
				return run, true
			}
		}
	}
	return models.RunRecord{}, false
}

// Reset drops every cached run, including those of polls still in flight.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
	t.cache = make(map[string][]models.RunRecord)
}

// Relevant reduces a page of runs to the active ones, or the single newest
// run if none are active.
func Relevant(records []models.RunRecord) []models.RunRecord {
	sorted := cloneRuns(records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	var active []models.RunRecord
	for _, run := range sorted {
		if run.Status.Active() {
			active = append(active, run)
		}
	}
	if len(active) > 0 {
		return active
	}
	if len(sorted) == 0 {
		return nil
	}
	return sorted[:1]
}

func cloneRuns(in []models.RunRecord) []models.RunRecord {
	if in == nil {
		return nil
	}
	return append([]models.RunRecord(nil), in...)
}
