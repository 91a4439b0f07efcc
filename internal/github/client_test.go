package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL: server.URL,
		Owner:   "acme",
		Repo:    "fleet",
		Token:   "tok",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{Owner: "acme", Repo: "fleet"}); err == nil {
		t.Error("expected error without token")
	}
	if _, err := NewClient(Config{Token: "tok"}); err == nil {
		t.Error("expected error without owner/repo")
	}
}

func TestListWorkflowsSendsHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/fleet/actions/workflows" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-GitHub-Api-Version"); got != apiVersion {
			t.Errorf("api version = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"total_count": 1,
			"workflows": []map[string]any{
				{"id": 42, "name": "API", "path": ".github/workflows/api.yml", "state": "active"},
			},
		})
	})

	workflows, err := client.ListWorkflows(context.Background())
	if err != nil {
		t.Fatalf("ListWorkflows failed: %v", err)
	}
	if len(workflows) != 1 || workflows[0].ID != 42 {
		t.Errorf("workflows = %+v", workflows)
	}
}

func TestListWorkflowRunsDecodesNullConclusion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "10" {
			t.Errorf("per_page = %s", r.URL.Query().Get("per_page"))
		}
		w.Write([]byte(`{"total_count":2,"workflow_runs":[
			{"id":2,"name":"API","status":"in_progress","conclusion":null,"created_at":"2024-01-01T10:00:00Z"},
			{"id":1,"name":"API","display_title":"deploy","status":"completed","conclusion":"failure","created_at":"2024-01-01T09:00:00Z"}
		]}`))
	})

	runs, err := client.ListWorkflowRuns(context.Background(), 42, 10)
	if err != nil {
		t.Fatalf("ListWorkflowRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs", len(runs))
	}
	first := runs[0].Record("api")
	if first.Conclusion != "" || first.DisplayTitle != "API" {
		t.Errorf("first = %+v", first)
	}
	second := runs[1].Record("api")
	if second.Conclusion != "failure" || second.DisplayTitle != "deploy" {
		t.Errorf("second = %+v", second)
	}
}

func TestDispatchWorkflow(t *testing.T) {
	var got DispatchRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/fleet/actions/workflows/42/dispatches" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.DispatchWorkflow(context.Background(), 42, DispatchRequest{
		Ref:    "main",
		Inputs: map[string]string{"env": "prod"},
	})
	if err != nil {
		t.Fatalf("DispatchWorkflow failed: %v", err)
	}
	if got.Ref != "main" || got.Inputs["env"] != "prod" {
		t.Errorf("body = %+v", got)
	}
}

func TestDispatchWorkflowRejectsOtherSuccessCodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	err := client.DispatchWorkflow(context.Background(), 42, DispatchRequest{Ref: "main"})
	if !errors.Is(err, ErrProvider) {
		t.Errorf("err = %v, want ErrProvider", err)
	}
}

func TestCancelWorkflowRun(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/fleet/actions/runs/7/cancel" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
	})

	if err := client.CancelWorkflowRun(context.Background(), 7); err != nil {
		t.Fatalf("CancelWorkflowRun failed: %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{401, `{"message":"Bad credentials"}`, ErrUnauthorized},
		{403, `{"message":"Resource not accessible"}`, ErrForbidden},
		{404, `{"message":"Not Found"}`, ErrNotFound},
		{422, `{"message":"No ref found for: nope"}`, ErrInvalidRequest},
		{500, `oops`, ErrProvider},
		{409, `{"message":"Cannot cancel"}`, ErrProvider},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			err := client.CancelWorkflowRun(context.Background(), 1)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
				t.Errorf("expected *APIError with status %d, got %v", tt.status, err)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(&APIError{StatusCode: 403, Message: "API rate limit exceeded"}) {
		t.Error("403 rate limit message not detected")
	}
	if IsRateLimited(&APIError{StatusCode: 403, Message: "Resource not accessible"}) {
		t.Error("plain 403 reported as rate limit")
	}
}

func TestParseAPIErrorTruncatesOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxMessageLen-1) + "é tail"
	err := parseAPIError(http.StatusBadGateway, []byte(body))

	if !utf8.ValidString(err.Message) {
		t.Fatalf("message is not valid UTF-8: %q", err.Message)
	}
	if err.Message != strings.Repeat("a", maxMessageLen-1) {
		t.Errorf("message = %q", err.Message)
	}

	short := parseAPIError(http.StatusBadGateway, []byte("  bad gateway  "))
	if short.Message != "bad gateway" {
		t.Errorf("short message = %q", short.Message)
	}
}
