// Package controlplane provides the HTTP API and service layer for shipctl.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fentz26/shipctl/internal/audit"
	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/models"
)

// Version is reported by the health endpoint. Overridden at build time.
var Version = "dev"

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service wraps the engine and records every user action in the journal.
type Service struct {
	engine  *engine.Engine
	journal *audit.Journal
	db      Pinger
}

// NewService creates a new control plane service. db may be nil when the
// journal is disabled.
func NewService(e *engine.Engine, j *audit.Journal, db Pinger) *Service {
	if j == nil {
		j = audit.NewJournal(nil)
	}
	return &Service{
		engine:  e,
		journal: j,
		db:      db,
	}
}

// Status returns the latest snapshot.
func (s *Service) Status() engine.Snapshot {
	return s.engine.Snapshot()
}

// Refresh runs a cycle. With wait it runs synchronously, otherwise it is
// started in the background. It reports whether a cycle was started.
func (s *Service) Refresh(ctx context.Context, full, wait bool) bool {
	if wait {
		return s.engine.Refresh(ctx, full)
	}
	return s.engine.RequestRefresh(full)
}

// Trigger dispatches a workflow.
func (s *Service) Trigger(ctx context.Context, name, ref string, inputs map[string]string) error {
	err := s.engine.Trigger(ctx, name, ref, inputs)
	s.record(ctx, "workflow.dispatch", map[string]interface{}{
		"workflow": name,
		"ref":      ref,
		"inputs":   inputs,
	}, name, err)
	return err
}

// CancelRun cancels one run.
func (s *Service) CancelRun(ctx context.Context, runID int64) error {
	err := s.engine.CancelRun(ctx, runID)

	target := fmt.Sprintf("run:%d", runID)
	var cancelErr *engine.CancelError
	if errors.As(err, &cancelErr) && cancelErr.Workflow != "" {
		target = cancelErr.Workflow
	}
	s.record(ctx, "run.cancel", map[string]int64{"run_id": runID}, target, err)
	return err
}

// CancelAll cancels every active run.
func (s *Service) CancelAll(ctx context.Context) (engine.CancelReport, error) {
	report, err := s.engine.CancelAll(ctx)
	if !errors.Is(err, engine.ErrNothingToCancel) {
		s.record(ctx, "run.cancel_all", map[string]int{
			"attempted": report.Attempted,
			"succeeded": report.Succeeded,
		}, "", err)
	}
	return report, err
}

// SetCredentials replaces the GitHub credentials.
func (s *Service) SetCredentials(ctx context.Context, creds engine.Credentials) (bool, error) {
	changed, err := s.engine.SetCredentials(creds)
	if changed || err != nil {
		// The token is never hashed into the journal.
		s.record(ctx, "credentials.update", map[string]string{
			"owner": creds.Owner,
			"repo":  creds.Repo,
		}, creds.Owner+"/"+creds.Repo, err)
	}
	return changed, err
}

// Credentials returns the masked current credentials.
func (s *Service) Credentials() engine.Credentials {
	return s.engine.Credentials()
}

// History returns the newest journal entries.
func (s *Service) History(ctx context.Context, target string, limit int) ([]models.JournalEntry, error) {
	return s.journal.History(ctx, target, limit)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK        bool        `json:"ok"`
	DB        string      `json:"db"`
	Version   string      `json:"version"`
	Time      string      `json:"time"`
	Scheduler interface{} `json:"scheduler"`
}

// Health reports daemon health.
func (s *Service) Health(ctx context.Context) HealthResponse {
	resp := HealthResponse{
		OK:        true,
		DB:        "disabled",
		Version:   Version,
		Time:      time.Now().UTC().Format(time.RFC3339),
		Scheduler: s.engine.SchedulerStats(),
	}
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			resp.OK = false
			resp.DB = err.Error()
		} else {
			resp.DB = "ok"
		}
	}
	return resp
}

func (s *Service) record(ctx context.Context, action string, inputs interface{}, target string, opErr error) {
	outcome, details := "success", ""
	if opErr != nil {
		outcome, details = "failure", opErr.Error()
	}
	if _, err := s.journal.Record(ctx, action, inputs, outcome, target, details); err != nil {
		log.Printf("Error recording %s: %v", action, err)
	}
}
