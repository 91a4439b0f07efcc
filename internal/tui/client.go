package tui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fentz26/shipctl/internal/controlplane"
	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the shipctl daemon API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Status fetches the current snapshot.
func (c *Client) Status() (*engine.Snapshot, error) {
	body, err := c.get("/api/v1/status")
	if err != nil {
		return nil, err
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Refresh asks the daemon for a refresh cycle. It reports whether one was
// started; false means a cycle was already running.
func (c *Client) Refresh(full bool) (bool, error) {
	path := "/api/v1/refresh"
	if full {
		path += "?full=true"
	}
	body, err := c.send(http.MethodPost, path, nil)
	if err != nil {
		return false, err
	}
	var result controlplane.RefreshResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return false, err
	}
	return result.Started, nil
}

// Trigger dispatches a workflow by logical name.
func (c *Client) Trigger(name, ref string, inputs map[string]string) error {
	_, err := c.send(http.MethodPost, "/api/v1/workflows/"+url.PathEscape(name)+"/dispatch", controlplane.DispatchRequest{
		Ref:    ref,
		Inputs: inputs,
	})
	return err
}

// CancelRun requests cancellation of one run.
func (c *Client) CancelRun(runID int64) error {
	_, err := c.send(http.MethodPost, "/api/v1/runs/"+strconv.FormatInt(runID, 10)+"/cancel", nil)
	return err
}

// CancelAll cancels every active run.
func (c *Client) CancelAll() (*controlplane.CancelAllResponse, error) {
	body, err := c.send(http.MethodPost, "/api/v1/runs/cancel", nil)
	if err != nil {
		return nil, err
	}
	var result controlplane.CancelAllResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// History fetches the newest journal entries.
func (c *Client) History(limit int) ([]models.JournalEntry, error) {
	body, err := c.get("/api/v1/history?limit=" + strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	var entries []models.JournalEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health controlplane.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}

func (c *Client) get(path string) ([]byte, error) {
	return c.send(http.MethodGet, path, nil)
}

func (c *Client) send(method, path string, data interface{}) ([]byte, error) {
	var reqBody io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, errors.New(apiErr.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
