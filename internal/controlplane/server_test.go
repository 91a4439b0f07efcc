package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/shipctl/internal/audit"
	"github.com/fentz26/shipctl/internal/clock"
	"github.com/fentz26/shipctl/internal/config"
	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/github"
	"github.com/fentz26/shipctl/internal/models"
	"github.com/fentz26/shipctl/internal/store"
)

type fakeClient struct {
	mu         sync.Mutex
	runs       map[int64][]github.WorkflowRun
	cancelErrs map[int64]error
	dispatched []github.DispatchRequest
	cancelled  []int64
}

func (f *fakeClient) ListWorkflows(ctx context.Context) ([]github.Workflow, error) {
	return []github.Workflow{
		{ID: 10, Path: ".github/workflows/deploy-api.yml"},
		{ID: 20, Path: ".github/workflows/deploy-web.yml"},
	}, nil
}

func (f *fakeClient) ListWorkflowRuns(ctx context.Context, id int64, perPage int) ([]github.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id], nil
}

func (f *fakeClient) DispatchWorkflow(ctx context.Context, id int64, req github.DispatchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, req)
	return nil
}

func (f *fakeClient) CancelWorkflowRun(ctx context.Context, runID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cancelErrs[runID]; err != nil {
		return err
	}
	f.cancelled = append(f.cancelled, runID)
	return nil
}

type upProbe struct{}

func (upProbe) Probe(ctx context.Context, url string, timeout time.Duration) models.HealthSample {
	return models.HealthSample{Status: models.HealthOK, LatencyMS: 5, Timestamp: time.Now()}
}

type testEnv struct {
	server  *Server
	handler http.Handler
	client  *fakeClient
	engine  *engine.Engine
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	cfg.GitHub.Owner = "acme"
	cfg.GitHub.Repo = "fleet"
	cfg.GitHub.Token = "tok"
	cfg.Backend.URL = ""
	cfg.Services = []models.ServiceDescriptor{
		{Key: "api", DisplayName: "API", PublicEndpoint: "https://api.example.com"},
		{Key: "web", DisplayName: "Web", PublicEndpoint: "https://web.example.com"},
	}
	cfg.Workflows = []models.WorkflowDescriptor{
		{LogicalName: "api", RemotePath: "deploy-api.yml", ServiceKey: "api"},
		{LogicalName: "web", RemotePath: "deploy-web.yml", ServiceKey: "web"},
	}

	client := &fakeClient{
		runs:       make(map[int64][]github.WorkflowRun),
		cancelErrs: make(map[int64]error),
	}
	e, err := engine.New(engine.Options{
		Config: cfg,
		Client: client,
		Probe:  upProbe{},
		Clock:  clock.Fake(time.Now()),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(e.Stop)

	s := NewServer(NewService(e, audit.NewJournal(db), db), "127.0.0.1:0")
	return &testEnv{server: s, handler: s.Router(), client: client, engine: e}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	return w
}

func (env *testEnv) refresh(t *testing.T) {
	t.Helper()
	if w := env.do(t, http.MethodPost, "/api/v1/refresh?full=true&wait=true", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected refresh status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func activeRun(id int64) github.WorkflowRun {
	return github.WorkflowRun{ID: id, Name: "deploy", Status: "in_progress", CreatedAt: time.Now()}
}

func TestHealthEndpoint_OK(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.client.runs[10] = []github.WorkflowRun{activeRun(1)}
	env.refresh(t)

	w := env.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var snap engine.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if snap.Repository != "acme/fleet" {
		t.Errorf("Expected repository acme/fleet, got %s", snap.Repository)
	}
	svc, ok := snap.Service("api")
	if !ok {
		t.Fatal("Expected api service in snapshot")
	}
	if svc.WorkflowState != models.StateRunning {
		t.Errorf("Expected api running, got %s", svc.WorkflowState)
	}
	if svc.Health.Status != models.HealthOK {
		t.Errorf("Expected api health ok, got %s", svc.Health.Status)
	}
}

func TestDispatchEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.refresh(t)

	w := env.do(t, http.MethodPost, "/api/v1/workflows/api/dispatch", DispatchRequest{
		Ref:    "release",
		Inputs: map[string]string{"version": "1.2.3"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.client.dispatched) != 1 || env.client.dispatched[0].Ref != "release" {
		t.Errorf("Unexpected dispatches: %+v", env.client.dispatched)
	}

	svc, _ := env.engine.Snapshot().Service("api")
	if svc.WorkflowState != models.StateStarting || !svc.OverlayActive {
		t.Errorf("Expected api starting with overlay, got %s overlay=%v", svc.WorkflowState, svc.OverlayActive)
	}

	var entries []models.JournalEntry
	w = env.do(t, http.MethodGet, "/api/v1/history?target=api", nil)
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "workflow.dispatch" || entries[0].Outcome != "success" {
		t.Errorf("Unexpected history: %+v", entries)
	}
}

func TestDispatchEndpoint_UnknownWorkflow(t *testing.T) {
	env := newTestServer(t)
	env.refresh(t)

	w := env.do(t, http.MethodPost, "/api/v1/workflows/nope/dispatch", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestDispatchEndpoint_InvalidJSON(t *testing.T) {
	env := newTestServer(t)
	env.refresh(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/api/dispatch", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestCancelRunEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.client.runs[10] = []github.WorkflowRun{activeRun(42)}
	env.refresh(t)

	w := env.do(t, http.MethodPost, "/api/v1/runs/42/cancel", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.client.cancelled) != 1 || env.client.cancelled[0] != 42 {
		t.Errorf("Unexpected cancellations: %v", env.client.cancelled)
	}

	w = env.do(t, http.MethodPost, "/api/v1/runs/abc/cancel", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad id, got %d", w.Code)
	}
}

func TestCancelRunEndpoint_ProviderError(t *testing.T) {
	env := newTestServer(t)
	env.client.cancelErrs[7] = &github.APIError{StatusCode: http.StatusConflict, Message: "cannot cancel"}

	w := env.do(t, http.MethodPost, "/api/v1/runs/7/cancel", nil)
	if w.Code == http.StatusAccepted || w.Code < 400 {
		t.Errorf("Expected an error status, got %d", w.Code)
	}
}

func TestCancelRunEndpoint_RateLimited(t *testing.T) {
	env := newTestServer(t)
	env.client.cancelErrs[7] = &github.APIError{StatusCode: http.StatusForbidden, Message: "API rate limit exceeded"}

	w := env.do(t, http.MethodPost, "/api/v1/runs/7/cancel", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}

	env.client.cancelErrs[7] = &github.APIError{StatusCode: http.StatusForbidden, Message: "Resource not accessible"}
	w = env.do(t, http.MethodPost, "/api/v1/runs/7/cancel", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestCancelAllEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/runs/cancel", nil)
	var resp CancelAllResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if w.Code != http.StatusOK || !resp.NothingToCancel {
		t.Errorf("Expected nothing to cancel, got %d %+v", w.Code, resp)
	}

	env.client.runs[10] = []github.WorkflowRun{activeRun(1)}
	env.client.runs[20] = []github.WorkflowRun{activeRun(2)}
	env.client.cancelErrs[2] = &github.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}
	env.refresh(t)

	w = env.do(t, http.MethodPost, "/api/v1/runs/cancel", nil)
	resp = CancelAllResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Attempted != 2 || resp.Succeeded != 1 || len(resp.Failures) != 1 {
		t.Fatalf("Unexpected report: %+v", resp)
	}
	if resp.Failures[0].RunID != 2 || resp.Failures[0].Error == "" {
		t.Errorf("Unexpected failure: %+v", resp.Failures[0])
	}
}

func TestCredentialsEndpoint(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/credentials", nil)
	var creds engine.Credentials
	if err := json.NewDecoder(w.Body).Decode(&creds); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if creds.Token != "****" {
		t.Errorf("Expected masked token, got %q", creds.Token)
	}

	w = env.do(t, http.MethodPut, "/api/v1/credentials", engine.Credentials{Owner: "acme", Repo: "fleet", Token: "tok"})
	var resp CredentialsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if w.Code != http.StatusOK || resp.Changed {
		t.Errorf("Expected unchanged credentials, got %d %+v", w.Code, resp)
	}
}
