package engine

import (
	"time"

	"github.com/fentz26/shipctl/internal/models"
	"github.com/fentz26/shipctl/internal/runs"
)

// Snapshot is the complete derived status at one point in time. It is
// recomputed wholesale after every cycle and never updated in place.
type Snapshot struct {
	GeneratedAt time.Time                     `json:"generated_at"`
	Repository  string                        `json:"repository,omitempty"`
	Services    []models.DerivedServiceStatus `json:"services"`
	Workflows   []models.WorkflowStatus       `json:"workflows"`
	Backend     *models.HealthSample          `json:"backend,omitempty"`
	Unmatched   []string                      `json:"unmatched,omitempty"`
	Error       string                        `json:"error,omitempty"`
	Summary     Summary                       `json:"summary"`
}

// Summary counts services by health and workflow state.
type Summary struct {
	Total    int `json:"total"`
	Healthy  int `json:"healthy"`
	Down     int `json:"down"`
	Checking int `json:"checking"`
	Running  int `json:"running"`
	Starting int `json:"starting"`
	Stopped  int `json:"stopped"`
	Failed   int `json:"failed"`
	Unknown  int `json:"unknown"`
}

// Service returns the status of the service with key.
func (s Snapshot) Service(key string) (models.DerivedServiceStatus, bool) {
	for _, svc := range s.Services {
		if svc.ServiceKey == key {
			return svc, true
		}
	}
	return models.DerivedServiceStatus{}, false
}

// Workflow returns the status of the workflow named name.
func (s Snapshot) Workflow(name string) (models.WorkflowStatus, bool) {
	for _, wf := range s.Workflows {
		if wf.Name == name {
			return wf, true
		}
	}
	return models.WorkflowStatus{}, false
}

// triggerSkew tolerates clock differences between this host and the CI
// provider when comparing run creation with trigger time.
const triggerSkew = 5 * time.Second

// workflowState derives the state of a workflow from its relevant runs,
// newest first, applying the trigger overlay.
func (e *Engine) workflowState(name string, records []models.RunRecord) (models.WorkflowState, bool) {
	var newest *models.RunRecord
	if len(records) > 0 {
		newest = &records[0]
	}
	state := runs.DeriveState(newest)

	entry, active := e.overlay.Get(name)
	if !active {
		return state, false
	}

	// Starting is forced only while no run from this trigger is visible or
	// the provider still reports it queued.
	switch {
	case newest == nil:
		return models.StateStarting, true
	case state == models.StateRunning:
		return state, true
	case newest.Status == models.RunQueued:
		return models.StateStarting, true
	case !newest.CreatedAt.Before(entry.CreatedAt.Add(-triggerSkew)):
		return state, true
	default:
		return models.StateStarting, true
	}
}

func (e *Engine) buildSnapshot() Snapshot {
	e.mu.RLock()
	snap := Snapshot{
		GeneratedAt: e.clock.Now(),
		Error:       e.lastErr,
	}
	if e.creds.Owner != "" && e.creds.Repo != "" {
		snap.Repository = e.creds.Owner + "/" + e.creds.Repo
	}
	e.mu.RUnlock()

	snap.Unmatched = e.directory.Unmatched()
	mode := e.cfg.Health.EndpointMode

	snap.Services = make([]models.DerivedServiceStatus, 0, len(e.cfg.Services))
	for _, svc := range e.cfg.Services {
		status := models.DerivedServiceStatus{
			ServiceKey:     svc.Key,
			DisplayName:    svc.DisplayName,
			Endpoint:       svc.Endpoint(mode),
			Health:         e.health.Sample(svc.Key),
			WorkflowState:  models.StateUnknown,
			Runs:           []models.RunView{},
			LatencyHistory: e.health.History(svc.Key),
		}
		if status.DisplayName == "" {
			status.DisplayName = svc.Key
		}
		if wf, ok := e.directory.ForService(svc.Key); ok {
			records := e.runs.Runs(wf.LogicalName)
			status.Workflow = wf.LogicalName
			status.Runs = runs.Views(records)
			status.WorkflowState, status.OverlayActive = e.workflowState(wf.LogicalName, records)
		}
		snap.Services = append(snap.Services, status)
		snap.Summary.add(status)
	}

	snap.Workflows = make([]models.WorkflowStatus, 0, len(e.cfg.Workflows))
	for _, wf := range e.directory.Configured() {
		status := models.WorkflowStatus{
			Name:  wf.LogicalName,
			State: models.StateUnknown,
			Runs:  []models.RunView{},
		}
		if _, ok := e.directory.Lookup(wf.LogicalName); ok {
			records := e.runs.Runs(wf.LogicalName)
			status.Resolved = true
			status.Runs = runs.Views(records)
			status.State, status.OverlayActive = e.workflowState(wf.LogicalName, records)
		}
		snap.Workflows = append(snap.Workflows, status)
	}

	if e.cfg.Backend.URL != "" {
		backend := e.health.Sample(backendKey)
		snap.Backend = &backend
	}
	return snap
}

func (s *Summary) add(status models.DerivedServiceStatus) {
	s.Total++
	switch status.Health.Status {
	case models.HealthOK:
		s.Healthy++
	case models.HealthDown:
		s.Down++
	default:
		s.Checking++
	}
	switch status.WorkflowState {
	case models.StateRunning:
		s.Running++
	case models.StateStarting:
		s.Starting++
	case models.StateStopped:
		s.Stopped++
	case models.StateFailed:
		s.Failed++
	default:
		s.Unknown++
	}
}
