// Package engine reconciles workflow run state and health probes into one
// status per service, and coordinates triggers and cancellations.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/shipctl/internal/clock"
	"github.com/fentz26/shipctl/internal/config"
	"github.com/fentz26/shipctl/internal/directory"
	"github.com/fentz26/shipctl/internal/github"
	"github.com/fentz26/shipctl/internal/health"
	"github.com/fentz26/shipctl/internal/overlay"
	"github.com/fentz26/shipctl/internal/runs"
	"github.com/fentz26/shipctl/internal/scheduler"
)

// backendKey is the health tracker key of the control-plane backend.
const backendKey = "_backend_"

// Client is the subset of the GitHub client the engine uses.
type Client interface {
	directory.Lister
	runs.Lister
	DispatchWorkflow(ctx context.Context, workflowID int64, request github.DispatchRequest) error
	CancelWorkflowRun(ctx context.Context, runID int64) error
}

// ClientFactory builds a Client for a GitHub configuration.
type ClientFactory func(cfg config.GitHubConfig) (Client, error)

// Credentials identify the repository and the token used to reach it.
type Credentials struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Token string `json:"token"`
}

// Options configures an Engine.
type Options struct {
	Config *config.Config
	// Client is used as-is when set. Otherwise NewClient builds one from the
	// configured credentials, if they are complete.
	Client    Client
	NewClient ClientFactory
	Probe     health.Probe
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Engine owns every cache of the reconciliation loop.
type Engine struct {
	cfg       *config.Config
	clock     clock.Clock
	logger    *slog.Logger
	newClient ClientFactory

	directory *directory.Directory
	runs      *runs.Tracker
	health    *health.Tracker
	overlay   *overlay.Cache
	sched     *scheduler.Scheduler

	mu           sync.RWMutex
	client       Client
	creds        Credentials
	generation   uint64
	needsResolve bool
	lastErr      string
	snapshot     Snapshot
	listeners    []func(Snapshot)

	// publishMu orders snapshot builds with their delivery.
	publishMu sync.Mutex

	timersMu sync.Mutex
	timers   map[*clock.Timer]struct{}
}

// New creates an engine. Call Start to begin periodic refreshing.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factory := opts.NewClient
	if factory == nil {
		factory = GitHubClientFactory(logger)
	}
	probe := opts.Probe
	if probe == nil {
		probe = health.NewProber(health.ProberConfig{
			RetryBackoff: cfg.RetryBackoff(),
			Clock:        clk,
			Logger:       logger,
		})
	}

	e := &Engine{
		cfg:          cfg,
		clock:        clk,
		logger:       logger,
		newClient:    factory,
		directory:    directory.New(cfg.Workflows),
		runs:         runs.NewTracker(cfg.GitHub.RunsPerPage, logger),
		health:       health.NewTracker(probe, cfg.Health.HistorySize),
		overlay:      overlay.New(cfg.OverlayTTL(), clk),
		needsResolve: true,
		creds: Credentials{
			Owner: cfg.GitHub.Owner,
			Repo:  cfg.GitHub.Repo,
			Token: cfg.GitHub.Token,
		},
		timers: make(map[*clock.Timer]struct{}),
	}
	e.sched = scheduler.New(e.refresh, &scheduler.Config{
		Interval:  cfg.Interval(),
		Immediate: true,
	}, clk)

	switch {
	case opts.Client != nil:
		e.client = opts.Client
	case cfg.HasCredentials():
		client, err := factory(cfg.GitHub)
		if err != nil {
			return nil, err
		}
		e.client = client
	}

	e.snapshot = e.buildSnapshot()
	return e, nil
}

// GitHubClientFactory returns a ClientFactory building *github.Client values.
func GitHubClientFactory(logger *slog.Logger) ClientFactory {
	return func(gh config.GitHubConfig) (Client, error) {
		return github.NewClient(github.Config{
			BaseURL: gh.BaseURL,
			Owner:   gh.Owner,
			Repo:    gh.Repo,
			Token:   gh.Token,
			Timeout: time.Duration(gh.TimeoutSec) * time.Second,
			Logger:  logger,
		})
	}
}

// Start begins periodic refreshing. The first cycle runs immediately.
func (e *Engine) Start() {
	e.sched.Start()
}

// Stop cancels pending follow-up refreshes and stops the scheduler.
func (e *Engine) Stop() {
	e.timersMu.Lock()
	for t := range e.timers {
		t.Stop()
	}
	e.timers = make(map[*clock.Timer]struct{})
	e.timersMu.Unlock()

	e.sched.Stop()
}

// Refresh runs a cycle synchronously. It returns false if a cycle was
// already in flight and nothing ran.
func (e *Engine) Refresh(ctx context.Context, full bool) bool {
	if full {
		return e.sched.FullRefresh(ctx)
	}
	return e.sched.Tick(ctx)
}

// RequestRefresh starts a cycle in the background unless one is in flight.
func (e *Engine) RequestRefresh(full bool) bool {
	return e.sched.Request(full)
}

// SchedulerStats returns the refresh scheduler statistics.
func (e *Engine) SchedulerStats() scheduler.Stats {
	return e.sched.GetStats()
}

// Subscribe registers fn to receive every new snapshot. fn runs on the
// refreshing goroutine and must not block.
func (e *Engine) Subscribe(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Snapshot returns the latest derived status.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Credentials returns the current credentials with the token masked.
func (e *Engine) Credentials() Credentials {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c := e.creds
	if c.Token != "" {
		c.Token = "****"
	}
	return c
}

// SetCredentials replaces the credentials. When they differ from the current
// ones the client is rebuilt, every cache is dropped and a full refresh runs,
// after the cycle in flight if there is one. It reports whether anything
// changed.
func (e *Engine) SetCredentials(creds Credentials) (bool, error) {
	e.mu.RLock()
	same := creds == e.creds
	e.mu.RUnlock()
	if same {
		return false, nil
	}

	gh := e.cfg.GitHub
	gh.Owner, gh.Repo, gh.Token = creds.Owner, creds.Repo, creds.Token

	var client Client
	if creds.Owner != "" && creds.Repo != "" && creds.Token != "" {
		c, err := e.newClient(gh)
		if err != nil {
			return false, err
		}
		client = c
	}

	e.mu.Lock()
	e.creds = creds
	e.client = client
	e.generation++
	e.needsResolve = true
	e.lastErr = ""
	e.mu.Unlock()

	e.directory.Reset()
	e.runs.Reset()
	e.overlay.Clear()

	e.logger.Info("credentials changed", "repository", creds.Owner+"/"+creds.Repo)
	e.publish()
	e.sched.Ensure()
	return true, nil
}

func (e *Engine) currentClient() Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// refresh is one reconciliation cycle: resolve if needed, then poll runs
// and probe health in parallel, then recompute the snapshot. A cycle
// overtaken by a credentials change commits nothing.
func (e *Engine) refresh(ctx context.Context, full bool) {
	cycle := uuid.NewString()
	started := e.clock.Now()

	e.mu.RLock()
	client := e.client
	generation := e.generation
	resolve := full || e.needsResolve
	e.mu.RUnlock()

	var errs []error
	if client == nil {
		errs = append(errs, ErrNoCredentials)
	} else if resolve {
		_, err := e.directory.Resolve(ctx, client)
		switch {
		case errors.Is(err, directory.ErrReset):
		case err != nil:
			errs = append(errs, err)
		default:
			e.mu.Lock()
			if e.generation == generation {
				e.needsResolve = false
			}
			e.mu.Unlock()
			if un := e.directory.Unmatched(); len(un) > 0 {
				e.logger.Warn("workflows not found in repository", "workflows", un)
			}
		}
	}

	var (
		g       errgroup.Group
		pollErr error
	)
	g.Go(func() error {
		if client != nil {
			pollErr = e.runs.PollAll(ctx, client, e.directory.Resolved())
		}
		return nil
	})
	g.Go(func() error {
		e.health.ProbeAll(ctx, e.targets())
		return nil
	})
	g.Wait()
	if pollErr != nil {
		errs = append(errs, pollErr)
	}

	e.overlay.Sweep()

	e.mu.Lock()
	if e.generation == generation {
		e.lastErr = ""
		if err := errors.Join(errs...); err != nil {
			e.lastErr = err.Error()
		}
	}
	e.mu.Unlock()

	snap := e.publish()
	e.logger.Debug("refresh cycle finished",
		"cycle", cycle,
		"full", full,
		"duration", e.clock.Now().Sub(started),
		"services", len(snap.Services),
		"error", snap.Error,
	)
}

// publish recomputes the snapshot from the caches and notifies listeners.
func (e *Engine) publish() Snapshot {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	snap := e.buildSnapshot()

	e.mu.Lock()
	e.snapshot = snap
	listeners := append([]func(Snapshot){}, e.listeners...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return snap
}

func (e *Engine) targets() []health.Target {
	mode := e.cfg.Health.EndpointMode
	targets := make([]health.Target, 0, len(e.cfg.Services)+1)
	for _, svc := range e.cfg.Services {
		targets = append(targets, health.Target{
			Key:     svc.Key,
			URL:     svc.HealthURL(mode),
			Timeout: e.cfg.ProbeTimeout(),
		})
	}
	if e.cfg.Backend.URL != "" {
		targets = append(targets, health.Target{
			Key:     backendKey,
			URL:     e.cfg.Backend.URL + "/health",
			Timeout: e.cfg.BackendProbeTimeout(),
		})
	}
	return targets
}

// after schedules a background refresh request after d.
func (e *Engine) after(d time.Duration) {
	if d <= 0 {
		e.sched.Request(false)
		return
	}

	var t *clock.Timer
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	t = e.clock.AfterFunc(d, func() {
		e.timersMu.Lock()
		delete(e.timers, t)
		e.timersMu.Unlock()
		e.sched.Request(false)
	})
	e.timers[t] = struct{}{}
}
