package github

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fentz26/shipctl/internal/models"
)

// Workflow is a workflow definition of the repository.
type Workflow struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	State string `json:"state"`
}

// WorkflowRun is a single execution of a workflow.
type WorkflowRun struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayTitle string    `json:"display_title"`
	Status       string    `json:"status"`
	Conclusion   *string   `json:"conclusion"`
	HTMLURL      string    `json:"html_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Record converts the run into a models.RunRecord for workflowRef.
func (run WorkflowRun) Record(workflowRef string) models.RunRecord {
	rec := models.RunRecord{
		ID:           run.ID,
		WorkflowRef:  workflowRef,
		Status:       models.RunStatus(run.Status),
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
		HTMLURL:      run.HTMLURL,
		DisplayTitle: run.DisplayTitle,
	}
	if rec.DisplayTitle == "" {
		rec.DisplayTitle = run.Name
	}
	if run.Conclusion != nil {
		rec.Conclusion = models.Conclusion(*run.Conclusion)
	}
	return rec
}

// DispatchRequest is the body of a workflow_dispatch call.
type DispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// ListWorkflows returns the workflows of the repository (first 100).
func (client *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var result struct {
		TotalCount int        `json:"total_count"`
		Workflows  []Workflow `json:"workflows"`
	}
	if err := client.get(ctx, "/actions/workflows?per_page=100", &result); err != nil {
		return nil, fmt.Errorf("listing workflows in %s: %w", client.Repository(), err)
	}
	return result.Workflows, nil
}

// ListWorkflowRuns returns the newest perPage runs of a workflow, newest first.
func (client *Client) ListWorkflowRuns(ctx context.Context, workflowID int64, perPage int) ([]WorkflowRun, error) {
	var result struct {
		TotalCount   int           `json:"total_count"`
		WorkflowRuns []WorkflowRun `json:"workflow_runs"`
	}
	path := fmt.Sprintf("/actions/workflows/%d/runs?per_page=%d", workflowID, perPage)
	if err := client.get(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("listing runs of workflow %d: %w", workflowID, err)
	}
	return result.WorkflowRuns, nil
}

// DispatchWorkflow triggers a workflow_dispatch event. Only 204 is success.
func (client *Client) DispatchWorkflow(ctx context.Context, workflowID int64, request DispatchRequest) error {
	path := fmt.Sprintf("/actions/workflows/%d/dispatches", workflowID)
	if _, err := client.do(ctx, http.MethodPost, path, request, http.StatusNoContent); err != nil {
		return fmt.Errorf("dispatching workflow %d: %w", workflowID, err)
	}
	return nil
}

// CancelWorkflowRun requests cancellation of a run. Only 202 is success.
func (client *Client) CancelWorkflowRun(ctx context.Context, runID int64) error {
	path := fmt.Sprintf("/actions/runs/%d/cancel", runID)
	if _, err := client.do(ctx, http.MethodPost, path, nil, http.StatusAccepted); err != nil {
		return fmt.Errorf("cancelling run %d: %w", runID, err)
	}
	return nil
}
