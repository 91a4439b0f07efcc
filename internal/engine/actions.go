package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fentz26/shipctl/internal/github"
)

// maxConcurrentCancels bounds the fan-out of CancelAll.
const maxConcurrentCancels = 8

// Trigger dispatches the workflow named name on ref (the configured default
// ref when empty). On success the workflow is shown as starting for the
// overlay TTL and follow-up refreshes are scheduled. Failures return a
// *DispatchError and change nothing.
func (e *Engine) Trigger(ctx context.Context, name, ref string, inputs map[string]string) error {
	wf, ok := e.directory.Lookup(name)
	if !ok {
		if _, configured := e.cfg.Workflow(name); configured {
			return &DispatchError{Workflow: name, Err: ErrUnresolvedWorkflow}
		}
		return &DispatchError{Workflow: name, Err: ErrUnknownWorkflow}
	}

	client := e.currentClient()
	if client == nil {
		return &DispatchError{Workflow: name, Err: ErrNoCredentials}
	}

	if ref == "" {
		ref = e.cfg.GitHub.Ref
	}

	err := client.DispatchWorkflow(ctx, wf.RemoteID, github.DispatchRequest{Ref: ref, Inputs: inputs})
	if err != nil {
		e.logger.Warn("dispatch failed", "workflow", name, "ref", ref, "error", err)
		return &DispatchError{Workflow: name, Err: err}
	}

	e.overlay.Put(name)
	for _, d := range e.cfg.FollowUps() {
		e.after(d)
	}
	e.logger.Info("workflow dispatched", "workflow", name, "ref", ref)

	e.publish()
	return nil
}

// CancelRun requests cancellation of one run. On success a refresh is
// scheduled after the cancel follow-up delay.
func (e *Engine) CancelRun(ctx context.Context, runID int64) error {
	var name string
	if run, ok := e.runs.Find(runID); ok {
		name = run.WorkflowRef
	}

	client := e.currentClient()
	if client == nil {
		return &CancelError{RunID: runID, Workflow: name, Err: ErrNoCredentials}
	}

	if err := client.CancelWorkflowRun(ctx, runID); err != nil {
		e.logger.Warn("cancel failed", "run", runID, "workflow", name, "error", err)
		return &CancelError{RunID: runID, Workflow: name, Err: err}
	}

	if name != "" {
		e.overlay.Delete(name)
	}
	e.after(e.cfg.CancelFollowUp())
	e.logger.Info("run cancellation requested", "run", runID, "workflow", name)
	return nil
}

// CancelAll attempts to cancel every known active run independently.
// Failures are collected in the report; report.Err joins them. With no
// active run it returns ErrNothingToCancel. A single refresh is scheduled
// if at least one cancellation succeeded.
func (e *Engine) CancelAll(ctx context.Context) (CancelReport, error) {
	active := e.runs.ActiveRuns()
	if len(active) == 0 {
		return CancelReport{NothingToCancel: true}, ErrNothingToCancel
	}

	client := e.currentClient()
	if client == nil {
		return CancelReport{}, ErrNoCredentials
	}

	report := CancelReport{Attempted: len(active)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCancels)
	for _, run := range active {
		g.Go(func() error {
			err := client.CancelWorkflowRun(gctx, run.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, CancelFailure{
					Name:  run.WorkflowRef,
					RunID: run.ID,
					Err:   err,
				})
				return nil
			}
			report.Succeeded++
			e.overlay.Delete(run.WorkflowRef)
			return nil
		})
	}
	g.Wait()

	if report.Succeeded > 0 {
		e.after(e.cfg.CancelFollowUp())
	}
	e.logger.Info("bulk cancel finished",
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", len(report.Failures),
	)

	if err := report.Err(); err != nil {
		return report, fmt.Errorf("%d of %d cancellations failed: %w", len(report.Failures), report.Attempted, err)
	}
	return report, nil
}
