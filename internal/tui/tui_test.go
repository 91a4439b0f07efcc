package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fentz26/shipctl/internal/controlplane"
	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/models"
)

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand("/deploy api release version=1.2 dry=true")
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if c.Name != cmdTrigger || c.Workflow != "api" || c.Ref != "release" {
		t.Errorf("unexpected command: %+v", c)
	}
	if c.Inputs["version"] != "1.2" || c.Inputs["dry"] != "true" {
		t.Errorf("unexpected inputs: %v", c.Inputs)
	}

	c, err = ParseCommand("cancel #42")
	if err != nil || c.Name != cmdCancel || c.RunID != 42 {
		t.Errorf("cancel: %+v, %v", c, err)
	}

	c, err = ParseCommand("cancel")
	if err != nil || c.RunID != 0 {
		t.Errorf("bare cancel: %+v, %v", c, err)
	}

	for _, bad := range []string{"", "trigger", "trigger api main dev", "cancel abc", "refresh now", "launch"} {
		if _, err := ParseCommand(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestSparkline(t *testing.T) {
	got := sparkline([]int64{10, 0, 80})
	if got != "▁·█" {
		t.Errorf("sparkline = %q", got)
	}
	if sparkline(nil) != "" {
		t.Error("expected empty sparkline for no samples")
	}
	if got := sparkline([]int64{0, 0}); got != "··" {
		t.Errorf("all-down sparkline = %q", got)
	}
}

func TestSuggestions(t *testing.T) {
	s := NewSuggestions()

	s.Update("/can")
	if !s.IsVisible() {
		t.Fatal("expected command suggestions")
	}
	text, ok := s.Accept()
	if !ok || text != "cancel " {
		t.Errorf("Accept = %q, %v", text, ok)
	}
	if s.IsVisible() {
		t.Error("suggestions should hide after accept")
	}

	s.Update("@we")
	s.SetWorkflows([]string{"api", "web"})
	text, ok = s.Accept()
	if !ok || text != "trigger web " {
		t.Errorf("workflow Accept = %q, %v", text, ok)
	}

	s.Update("#")
	s.SetRuns([]models.RunView{{RunRecord: models.RunRecord{ID: 7, WorkflowRef: "api"}}})
	text, ok = s.Accept()
	if !ok || text != "cancel 7 " {
		t.Errorf("run Accept = %q, %v", text, ok)
	}

	s.Update("trigger")
	if s.IsVisible() {
		t.Error("plain input should not show suggestions")
	}
}

func TestClient(t *testing.T) {
	var dispatched controlplane.DispatchRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(engine.Snapshot{
			Repository: "acme/fleet",
			Services:   []models.DerivedServiceStatus{{ServiceKey: "api", WorkflowState: models.StateRunning}},
		})
	})
	mux.HandleFunc("/api/v1/workflows/api/dispatch", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&dispatched)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"dispatched"}`))
	})
	mux.HandleFunc("/api/v1/workflows/nope/dispatch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"dispatch nope: unknown workflow"}`))
	})
	mux.HandleFunc("/api/v1/runs/cancel", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(controlplane.CancelAllResponse{Attempted: 2, Succeeded: 2})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)

	snap, err := c.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if snap.Repository != "acme/fleet" || len(snap.Services) != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	if err := c.Trigger("api", "main", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if dispatched.Ref != "main" || dispatched.Inputs["k"] != "v" {
		t.Errorf("unexpected dispatch body: %+v", dispatched)
	}

	err = c.Trigger("nope", "", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown workflow") {
		t.Errorf("expected server error message, got %v", err)
	}

	report, err := c.CancelAll()
	if err != nil || report.Succeeded != 2 {
		t.Errorf("CancelAll = %+v, %v", report, err)
	}
}

func TestAppViewRendersServices(t *testing.T) {
	a := New("http://127.0.0.1:0")
	a.width, a.height = 120, 30
	a.snapshot = &engine.Snapshot{
		Services: []models.DerivedServiceStatus{
			{ServiceKey: "api", DisplayName: "API", WorkflowState: models.StateStarting, OverlayActive: true,
				Health: models.HealthSample{Status: models.HealthOK, LatencyMS: 42}, LatencyHistory: []int64{40, 42}},
		},
	}

	view := a.View()
	if !strings.Contains(view, "API") || !strings.Contains(view, "dispatched") {
		t.Errorf("view missing service row:\n%s", view)
	}

	a.mode = modeDetail
	if view := a.View(); !strings.Contains(view, "waiting for the run") {
		t.Errorf("detail view missing overlay note:\n%s", view)
	}
}
