// Package models defines the core domain types for shipctl.
package models

import (
	"strconv"
	"strings"
	"time"
)

// EndpointMode selects which endpoint a service is probed on.
type EndpointMode string

const (
	EndpointPublic EndpointMode = "public"
	EndpointLocal  EndpointMode = "local"
)

// ServiceDescriptor is a statically configured service of the fleet.
type ServiceDescriptor struct {
	Key         string `json:"key" yaml:"key"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	LocalPort   int    `json:"local_port,omitempty" yaml:"local_port,omitempty"`
	// PublicEndpoint may contain a {key} placeholder.
	PublicEndpoint string `json:"public_endpoint" yaml:"public_endpoint"`
}

// Endpoint returns the base URL the service is reachable on in mode.
func (s ServiceDescriptor) Endpoint(mode EndpointMode) string {
	if mode == EndpointLocal && s.LocalPort > 0 {
		return "http://localhost:" + strconv.Itoa(s.LocalPort)
	}
	return strings.TrimRight(strings.ReplaceAll(s.PublicEndpoint, "{key}", s.Key), "/")
}

// HealthURL returns the health probe URL for mode.
func (s ServiceDescriptor) HealthURL(mode EndpointMode) string {
	return s.Endpoint(mode) + "/health"
}

// WorkflowDescriptor binds a logical workflow name to its remote workflow.
type WorkflowDescriptor struct {
	LogicalName string `json:"name" yaml:"name"`
	RemotePath  string `json:"path" yaml:"path"`
	// RemoteID is zero until the directory resolves it.
	RemoteID int64 `json:"remote_id,omitempty" yaml:"-"`
	// ServiceKey is empty for one-shot jobs that control no service.
	ServiceKey string `json:"service,omitempty" yaml:"service,omitempty"`
}

// Resolved reports whether the remote id is known.
func (w WorkflowDescriptor) Resolved() bool { return w.RemoteID != 0 }

// RunStatus is the lifecycle status reported by the CI provider.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
)

// Active reports whether a run with this status can still be cancelled.
func (s RunStatus) Active() bool {
	return s == RunQueued || s == RunInProgress
}

// Conclusion is the outcome of a completed run. Empty means none yet.
type Conclusion string

const (
	ConclusionNone      Conclusion = ""
	ConclusionSuccess   Conclusion = "success"
	ConclusionFailure   Conclusion = "failure"
	ConclusionCancelled Conclusion = "cancelled"
)

// RunRecord is one workflow run as observed at poll time.
type RunRecord struct {
	ID           int64      `json:"id"`
	WorkflowRef  string     `json:"workflow"`
	Status       RunStatus  `json:"status"`
	Conclusion   Conclusion `json:"conclusion,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	HTMLURL      string     `json:"html_url,omitempty"`
	DisplayTitle string     `json:"display_title,omitempty"`
}

// HealthStatus is the result of a health probe.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDown     HealthStatus = "down"
	HealthChecking HealthStatus = "checking"
)

// HealthSample is the latest probe result for one endpoint.
type HealthSample struct {
	Status HealthStatus `json:"status"`
	// LatencyMS is 0 when the latency could not be measured.
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowState is the state derived from a service's runs.
type WorkflowState string

const (
	StateRunning  WorkflowState = "running"
	StateStarting WorkflowState = "starting"
	StateStopped  WorkflowState = "stopped"
	StateFailed   WorkflowState = "failed"
	StateUnknown  WorkflowState = "unknown"
)

// RunView is a run annotated with its derived state.
type RunView struct {
	RunRecord
	State WorkflowState `json:"state"`
}

// DerivedServiceStatus is the reconciled view of one service.
type DerivedServiceStatus struct {
	ServiceKey     string        `json:"key"`
	DisplayName    string        `json:"display_name"`
	Endpoint       string        `json:"endpoint"`
	Health         HealthSample  `json:"health"`
	WorkflowState  WorkflowState `json:"workflow_state"`
	OverlayActive  bool          `json:"overlay_active"`
	Workflow       string        `json:"workflow,omitempty"`
	Runs           []RunView     `json:"runs"`
	LatencyHistory []int64       `json:"latency_history"`
}

// WorkflowStatus is the reconciled view of a workflow bound to no service.
type WorkflowStatus struct {
	Name          string        `json:"name"`
	Resolved      bool          `json:"resolved"`
	State         WorkflowState `json:"state"`
	OverlayActive bool          `json:"overlay_active"`
	Runs          []RunView     `json:"runs"`
}

// JournalEntry is an audit record of a user-initiated action.
type JournalEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Target     string    `json:"target,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
