package runs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/shipctl/internal/github"
	"github.com/fentz26/shipctl/internal/models"
)

type fakeLister struct {
	mu   sync.Mutex
	runs map[int64][]github.WorkflowRun
	errs map[int64]error
}

func (f *fakeLister) ListWorkflowRuns(ctx context.Context, id int64, perPage int) ([]github.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return f.runs[id], nil
}

func strp(s string) *string { return &s }

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func run(id int64, status string, conclusion *string, ageMin int) github.WorkflowRun {
	return github.WorkflowRun{
		ID:         id,
		Name:       "api",
		Status:     status,
		Conclusion: conclusion,
		CreatedAt:  base.Add(-time.Duration(ageMin) * time.Minute),
	}
}

var apiWF = models.WorkflowDescriptor{LogicalName: "api", RemotePath: "api.yml", RemoteID: 1, ServiceKey: "api"}

func TestDeriveState(t *testing.T) {
	tests := []struct {
		name string
		run  *models.RunRecord
		want models.WorkflowState
	}{
		{"in progress", &models.RunRecord{Status: models.RunInProgress}, models.StateRunning},
		{"queued", &models.RunRecord{Status: models.RunQueued}, models.StateStarting},
		{"success", &models.RunRecord{Status: models.RunCompleted, Conclusion: models.ConclusionSuccess}, models.StateStopped},
		{"failure", &models.RunRecord{Status: models.RunCompleted, Conclusion: models.ConclusionFailure}, models.StateFailed},
		{"cancelled", &models.RunRecord{Status: models.RunCompleted, Conclusion: models.ConclusionCancelled}, models.StateUnknown},
		{"null conclusion", &models.RunRecord{Status: models.RunCompleted}, models.StateUnknown},
		{"no run", nil, models.StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveState(tt.run); got != tt.want {
				t.Errorf("DeriveState = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPollKeepsAllActiveRuns(t *testing.T) {
	lister := &fakeLister{runs: map[int64][]github.WorkflowRun{
		1: {
			run(3, "in_progress", nil, 1),
			run(2, "queued", nil, 2),
			run(1, "completed", strp("success"), 30),
		},
	}}
	tr := NewTracker(10, nil)

	got, err := tr.PollActiveRuns(context.Background(), lister, apiWF)
	if err != nil {
		t.Fatalf("PollActiveRuns failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 2 {
		t.Fatalf("runs = %+v, want ids [3 2]", got)
	}
	if len(tr.ActiveRuns()) != 2 {
		t.Errorf("ActiveRuns = %d, want 2", len(tr.ActiveRuns()))
	}
}

func TestPollReturnsMostRecentCompleted(t *testing.T) {
	lister := &fakeLister{runs: map[int64][]github.WorkflowRun{
		1: {
			run(1, "completed", strp("success"), 30),
			run(2, "completed", strp("failure"), 5),
		},
	}}
	tr := NewTracker(10, nil)

	got, err := tr.PollActiveRuns(context.Background(), lister, apiWF)
	if err != nil {
		t.Fatalf("PollActiveRuns failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("runs = %+v, want newest completed run 2", got)
	}
	if DeriveState(&got[0]) != models.StateFailed {
		t.Errorf("state = %s", DeriveState(&got[0]))
	}
}

func TestPollNoRuns(t *testing.T) {
	tr := NewTracker(10, nil)
	got, err := tr.PollActiveRuns(context.Background(), &fakeLister{}, apiWF)
	if err != nil {
		t.Fatalf("PollActiveRuns failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("runs = %+v, want none", got)
	}
}

func TestPollAllKeepsLastKnownGood(t *testing.T) {
	worker := models.WorkflowDescriptor{LogicalName: "worker", RemoteID: 2, ServiceKey: "worker"}
	lister := &fakeLister{
		runs: map[int64][]github.WorkflowRun{
			1: {run(10, "in_progress", nil, 1)},
			2: {run(20, "queued", nil, 1)},
		},
		errs: map[int64]error{},
	}
	tr := NewTracker(10, nil)
	wfs := map[string]models.WorkflowDescriptor{"api": apiWF, "worker": worker}

	if err := tr.PollAll(context.Background(), lister, wfs); err != nil {
		t.Fatalf("PollAll failed: %v", err)
	}

	lister.mu.Lock()
	lister.errs[2] = &github.APIError{StatusCode: 500}
	lister.runs[1] = []github.WorkflowRun{run(11, "completed", strp("success"), 0)}
	lister.mu.Unlock()

	err := tr.PollAll(context.Background(), lister, wfs)
	if !errors.Is(err, github.ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
	if got := tr.Runs("worker"); len(got) != 1 || got[0].ID != 20 {
		t.Errorf("worker runs = %+v, want last-known-good run 20", got)
	}
	if got := tr.Runs("api"); len(got) != 1 || got[0].ID != 11 {
		t.Errorf("api runs = %+v, want refreshed run 11", got)
	}
}

func TestPollUnresolved(t *testing.T) {
	tr := NewTracker(10, nil)
	if _, err := tr.PollActiveRuns(context.Background(), &fakeLister{}, models.WorkflowDescriptor{LogicalName: "x"}); err == nil {
		t.Error("expected error for unresolved workflow")
	}
}

// resettingLister resets the tracker while runs are being fetched.
type resettingLister struct {
	t    *Tracker
	runs []github.WorkflowRun
}

func (r resettingLister) ListWorkflowRuns(ctx context.Context, id int64, perPage int) ([]github.WorkflowRun, error) {
	r.t.Reset()
	return r.runs, nil
}

func TestPollAcrossResetIsNotCached(t *testing.T) {
	tr := NewTracker(10, nil)
	lister := resettingLister{t: tr, runs: []github.WorkflowRun{run(1, "in_progress", nil, 1)}}

	got, err := tr.PollActiveRuns(context.Background(), lister, apiWF)
	if err != nil {
		t.Fatalf("PollActiveRuns failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("returned %d runs, want 1", len(got))
	}
	if cached := tr.Runs("api"); len(cached) != 0 {
		t.Errorf("runs polled across a reset were cached: %+v", cached)
	}
	if _, ok := tr.Find(1); ok {
		t.Error("Find returned a run polled across a reset")
	}
}
