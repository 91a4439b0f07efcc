package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine operations.
var (
	ErrNothingToCancel    = errors.New("nothing to cancel")
	ErrNoCredentials      = errors.New("github credentials not configured")
	ErrUnknownWorkflow    = errors.New("unknown workflow")
	ErrUnresolvedWorkflow = errors.New("workflow not found in repository")
)

// DispatchError is returned when a workflow could not be triggered.
type DispatchError struct {
	Workflow string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Workflow, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// CancelError is returned when a run could not be cancelled.
type CancelError struct {
	RunID    int64
	Workflow string
	Err      error
}

func (e *CancelError) Error() string {
	if e.Workflow != "" {
		return fmt.Sprintf("cancel run %d (%s): %v", e.RunID, e.Workflow, e.Err)
	}
	return fmt.Sprintf("cancel run %d: %v", e.RunID, e.Err)
}

func (e *CancelError) Unwrap() error { return e.Err }

// CancelFailure is one failed cancellation of a bulk cancel.
type CancelFailure struct {
	Name  string `json:"name"`
	RunID int64  `json:"run_id"`
	Err   error  `json:"-"`
}

// CancelReport summarizes a bulk cancel.
type CancelReport struct {
	Attempted       int             `json:"attempted"`
	Succeeded       int             `json:"succeeded"`
	Failures        []CancelFailure `json:"failures"`
	NothingToCancel bool            `json:"nothing_to_cancel"`
}

// Err joins the failures into one error, or returns nil.
func (r CancelReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, &CancelError{RunID: f.RunID, Workflow: f.Name, Err: f.Err})
	}
	return errors.Join(errs...)
}
