// Package github is a small GitHub Actions REST client covering workflow
// listing, run listing, dispatch and cancellation.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// apiVersion pins the REST API version.
const apiVersion = "2022-11-28"

const defaultBaseURL = "https://api.github.com"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL defaults to https://api.github.com.
	BaseURL string
	Owner   string
	Repo    string
	Token   string
	// Timeout bounds every request. Defaults to 15s.
	Timeout time.Duration
	// HTTPClient overrides the oauth2 client. Its transport must add
	// authorization itself.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the Actions API of one repository.
type Client struct {
	baseURL    string
	owner      string
	repo       string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client from config. Owner, repo and token are required.
func NewClient(config Config) (*Client, error) {
	if config.Owner == "" || config.Repo == "" {
		return nil, fmt.Errorf("github: owner and repo are required")
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		if config.Token == "" {
			return nil, fmt.Errorf("github: token is required")
		}
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{
					AccessToken: config.Token,
					TokenType:   "Bearer",
				}),
				Base: cleanhttp.DefaultPooledTransport(),
			},
		}
	}

	return &Client{
		baseURL:    baseURL,
		owner:      config.Owner,
		repo:       config.Repo,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Repository returns "owner/repo".
func (client *Client) Repository() string {
	return client.owner + "/" + client.repo
}

// do executes a request against a repo-relative path and checks that the
// response status is the expected one. Any other status becomes an *APIError.
func (client *Client) do(ctx context.Context, method, path string, requestBody any, want int) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("github: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	url := fmt.Sprintf("%s/repos/%s/%s%s", client.baseURL, client.owner, client.repo, path)
	request, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", apiVersion)
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("github: reading response body: %w", err)
	}

	if response.StatusCode != want {
		apiErr := parseAPIError(response.StatusCode, body)
		if isRateLimitMessage(apiErr.Message) {
			client.logger.Warn("github rate limited",
				"method", method,
				"path", path,
				"reset", response.Header.Get("X-RateLimit-Reset"),
			)
		}
		return nil, apiErr
	}
	return body, nil
}

func (client *Client) get(ctx context.Context, path string, result any) error {
	body, err := client.do(ctx, http.MethodGet, path, nil, http.StatusOK)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("github: decoding %s: %w", path, err)
	}
	return nil
}
