// Package config loads the shipctl configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/shipctl/internal/models"
)

// Default configuration values
const (
	DefaultGitHubBaseURL     = "https://api.github.com"
	DefaultRef               = "main"
	DefaultRunsPerPage       = 10
	DefaultGitHubTimeoutSec  = 15
	DefaultRefreshInterval   = 30
	DefaultCancelFollowUp    = 2
	DefaultOverlayTTL        = 15
	DefaultHealthTimeoutMS   = 3000
	DefaultBackendTimeoutMS  = 5000
	DefaultRetryBackoffMS    = 500
	DefaultHistorySize       = 10
	DefaultBackendURL        = "http://127.0.0.1:9876"
	DefaultListenAddr        = "127.0.0.1:7466"
	DefaultJournalDriver     = "sqlite"
	DefaultEventsSubject     = "shipctl.status"
	DefaultConfigDir         = ".shipctl"
	DefaultConfigFile        = "config.yaml"
	DefaultJournalFile       = "journal.db"
)

// DefaultFollowUps are the delays of the refreshes scheduled after a dispatch.
var DefaultFollowUps = []int{3, 6, 10}

// Config holds all shipctl configuration.
type Config struct {
	GitHub    GitHubConfig                 `yaml:"github"`
	Refresh   RefreshConfig                `yaml:"refresh"`
	Health    HealthConfig                 `yaml:"health"`
	Backend   BackendConfig                `yaml:"backend"`
	Services  []models.ServiceDescriptor   `yaml:"services"`
	Workflows []models.WorkflowDescriptor  `yaml:"workflows"`
	Journal   JournalConfig                `yaml:"journal"`
	Events    EventsConfig                 `yaml:"events"`
	API       APIConfig                    `yaml:"api"`
}

// GitHubConfig identifies the repository whose workflows are orchestrated.
type GitHubConfig struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	// Token is usually supplied through SHIPCTL_GITHUB_TOKEN or GITHUB_TOKEN.
	Token       string `yaml:"token,omitempty"`
	Ref         string `yaml:"ref"`
	BaseURL     string `yaml:"base_url"`
	RunsPerPage int    `yaml:"runs_per_page"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// RefreshConfig controls the refresh cadence and the trigger overlay.
type RefreshConfig struct {
	IntervalSec       int   `yaml:"interval_sec"`
	FollowUpsSec      []int `yaml:"follow_ups_sec"`
	CancelFollowUpSec int   `yaml:"cancel_follow_up_sec"`
	OverlayTTLSec     int   `yaml:"overlay_ttl_sec"`
}

// HealthConfig controls health probing.
type HealthConfig struct {
	TimeoutMS        int                 `yaml:"timeout_ms"`
	BackendTimeoutMS int                 `yaml:"backend_timeout_ms"`
	RetryBackoffMS   int                 `yaml:"retry_backoff_ms"`
	HistorySize      int                 `yaml:"history_size"`
	EndpointMode     models.EndpointMode `yaml:"endpoint_mode"`
}

// BackendConfig points at the local control-plane backend.
type BackendConfig struct {
	// URL is probed like a service. Empty disables the backend probe.
	URL string `yaml:"url"`
}

// JournalConfig selects where the action journal is written.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

// EventsConfig enables status-change publishing. Empty NATSURL disables it.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject"`
}

// APIConfig holds the daemon listen address.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a configuration with every default applied and no fleet.
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{
			Ref:         DefaultRef,
			BaseURL:     DefaultGitHubBaseURL,
			RunsPerPage: DefaultRunsPerPage,
			TimeoutSec:  DefaultGitHubTimeoutSec,
		},
		Refresh: RefreshConfig{
			IntervalSec:       DefaultRefreshInterval,
			FollowUpsSec:      append([]int(nil), DefaultFollowUps...),
			CancelFollowUpSec: DefaultCancelFollowUp,
			OverlayTTLSec:     DefaultOverlayTTL,
		},
		Health: HealthConfig{
			TimeoutMS:        DefaultHealthTimeoutMS,
			BackendTimeoutMS: DefaultBackendTimeoutMS,
			RetryBackoffMS:   DefaultRetryBackoffMS,
			HistorySize:      DefaultHistorySize,
			EndpointMode:     models.EndpointPublic,
		},
		Backend: BackendConfig{URL: DefaultBackendURL},
		Journal: JournalConfig{Driver: DefaultJournalDriver},
		Events:  EventsConfig{Subject: DefaultEventsSubject},
		API:     APIConfig{Listen: DefaultListenAddr},
	}
}

// DefaultPath returns ~/.shipctl/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// Load reads path, applies environment overrides and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories if needed. The token
// is never written.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	out := *cfg
	out.GitHub.Token = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.GitHub.Token = getEnv("SHIPCTL_GITHUB_TOKEN", getEnv("GITHUB_TOKEN", c.GitHub.Token))
	c.GitHub.Owner = getEnv("SHIPCTL_OWNER", c.GitHub.Owner)
	c.GitHub.Repo = getEnv("SHIPCTL_REPO", c.GitHub.Repo)
	c.GitHub.RunsPerPage = getEnvInt("SHIPCTL_RUNS_PER_PAGE", c.GitHub.RunsPerPage)
	c.API.Listen = getEnv("SHIPCTL_LISTEN", c.API.Listen)
	c.Events.NATSURL = getEnv("SHIPCTL_NATS_URL", c.Events.NATSURL)
	if dsn := getEnv("SHIPCTL_JOURNAL_DSN", ""); dsn != "" {
		c.Journal.Driver = "postgres"
		c.Journal.DSN = dsn
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.GitHub.RunsPerPage < 1 || c.GitHub.RunsPerPage > 100 {
		return fmt.Errorf("github.runs_per_page must be between 1 and 100")
	}
	if c.GitHub.TimeoutSec < 1 {
		return fmt.Errorf("github.timeout_sec must be at least 1")
	}
	if c.Refresh.IntervalSec < 1 {
		return fmt.Errorf("refresh.interval_sec must be at least 1")
	}
	for _, s := range c.Refresh.FollowUpsSec {
		if s < 1 {
			return fmt.Errorf("refresh.follow_ups_sec entries must be positive")
		}
	}
	if c.Refresh.OverlayTTLSec < 1 {
		return fmt.Errorf("refresh.overlay_ttl_sec must be at least 1")
	}
	if c.Health.TimeoutMS < 1 || c.Health.BackendTimeoutMS < 1 {
		return fmt.Errorf("health timeouts must be positive")
	}
	if c.Health.HistorySize < 1 {
		return fmt.Errorf("health.history_size must be at least 1")
	}
	switch c.Health.EndpointMode {
	case models.EndpointPublic, models.EndpointLocal:
	default:
		return fmt.Errorf("invalid endpoint_mode %q, must be: public or local", c.Health.EndpointMode)
	}
	switch c.Journal.Driver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("invalid journal driver %q, must be: sqlite, postgres, or none", c.Journal.Driver)
	}
	if c.Journal.Driver == "postgres" && c.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn is required for the postgres driver")
	}

	services := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		if s.Key == "" {
			return fmt.Errorf("service key cannot be empty")
		}
		if services[s.Key] {
			return fmt.Errorf("duplicate service key %q", s.Key)
		}
		if s.PublicEndpoint == "" && s.LocalPort == 0 {
			return fmt.Errorf("service %q needs a public_endpoint or local_port", s.Key)
		}
		services[s.Key] = true
	}

	names := make(map[string]bool, len(c.Workflows))
	for _, w := range c.Workflows {
		if w.LogicalName == "" || w.RemotePath == "" {
			return fmt.Errorf("workflow name and path are required")
		}
		if names[w.LogicalName] {
			return fmt.Errorf("duplicate workflow %q", w.LogicalName)
		}
		if w.ServiceKey != "" && !services[w.ServiceKey] {
			return fmt.Errorf("workflow %q references unknown service %q", w.LogicalName, w.ServiceKey)
		}
		names[w.LogicalName] = true
	}
	return nil
}

// HasCredentials reports whether owner, repo and token are all set.
func (c *Config) HasCredentials() bool {
	return c.GitHub.Owner != "" && c.GitHub.Repo != "" && c.GitHub.Token != ""
}

// Workflow returns the configured workflow named name.
func (c *Config) Workflow(name string) (models.WorkflowDescriptor, bool) {
	for _, w := range c.Workflows {
		if w.LogicalName == name {
			return w, true
		}
	}
	return models.WorkflowDescriptor{}, false
}

// FollowUps returns the post-dispatch refresh delays.
func (c *Config) FollowUps() []time.Duration {
	out := make([]time.Duration, 0, len(c.Refresh.FollowUpsSec))
	for _, s := range c.Refresh.FollowUpsSec {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

// Interval returns the periodic refresh interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Refresh.IntervalSec) * time.Second
}

// CancelFollowUp returns the delay of the refresh scheduled after a cancel.
func (c *Config) CancelFollowUp() time.Duration {
	return time.Duration(c.Refresh.CancelFollowUpSec) * time.Second
}

// OverlayTTL returns the lifetime of a trigger overlay entry.
func (c *Config) OverlayTTL() time.Duration {
	return time.Duration(c.Refresh.OverlayTTLSec) * time.Second
}

// ProbeTimeout returns the per-probe timeout for fleet services.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Health.TimeoutMS) * time.Millisecond
}

// BackendProbeTimeout returns the per-probe timeout for the backend.
func (c *Config) BackendProbeTimeout() time.Duration {
	return time.Duration(c.Health.BackendTimeoutMS) * time.Millisecond
}

// RetryBackoff returns the delay before the single probe retry.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Health.RetryBackoffMS) * time.Millisecond
}

// ServiceKeys lists the configured service keys in order.
func (c *Config) ServiceKeys() []string {
	keys := make([]string, 0, len(c.Services))
	for _, s := range c.Services {
		keys = append(keys, s.Key)
	}
	return keys
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
