// Package health probes service health endpoints and keeps per-service
// latency history.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"

	"github.com/fentz26/shipctl/internal/clock"
	"github.com/fentz26/shipctl/internal/models"
)

// Prober performs GET {url} health probes. Concurrent probes of the same URL
// share a single network call. A failed attempt is retried exactly once.
type Prober struct {
	backoff time.Duration
	clock   clock.Clock
	logger  *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	clients map[time.Duration]*retryablehttp.Client
	last    map[string]models.HealthSample
}

// ProberConfig configures a Prober.
type ProberConfig struct {
	// RetryBackoff is the delay before the single retry. Defaults to 500ms.
	RetryBackoff time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// NewProber creates a Prober.
func NewProber(cfg ProberConfig) *Prober {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Prober{
		backoff: cfg.RetryBackoff,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		clients: make(map[time.Duration]*retryablehttp.Client),
		last:    make(map[string]models.HealthSample),
	}
}

type attemptKey struct{}

// attemptStart records when the latest attempt of a probe began.
type attemptStart struct {
	mu sync.Mutex
	at time.Time
}

func (a *attemptStart) set(t time.Time) {
	a.mu.Lock()
	a.at = t
	a.mu.Unlock()
}

func (a *attemptStart) get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.at
}

// clientFor returns the retrying client whose per-attempt timeout is timeout.
func (p *Prober) clientFor(timeout time.Duration) *retryablehttp.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[timeout]; ok {
		return c
	}

	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = timeout
	c.RetryMax = 1
	c.RetryWaitMin = p.backoff
	c.RetryWaitMax = p.backoff
	c.Backoff = func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		return min
	}
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		return !ok(resp.StatusCode), nil
	}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if start, ok := req.Context().Value(attemptKey{}).(*attemptStart); ok {
			start.set(p.clock.Now())
		}
		if attempt > 0 {
			p.logger.Debug("probe retry", "url", req.URL.String())
		}
	}
	c.Logger = p.logger

	p.clients[timeout] = c
	return c
}

// Probe returns the health of url. If ctx ends before the shared probe
// completes, the last cached sample is returned instead.
func (p *Prober) Probe(ctx context.Context, url string, timeout time.Duration) models.HealthSample {
	ch := p.group.DoChan(url, func() (any, error) {
		// Detached: one caller giving up must not cancel the shared probe.
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*timeout+p.backoff)
		defer cancel()
		return p.probe(probeCtx, url, timeout), nil
	})

	select {
	case res := <-ch:
		return res.Val.(models.HealthSample)
	case <-ctx.Done():
		return p.Last(url)
	}
}

func (p *Prober) probe(ctx context.Context, url string, timeout time.Duration) models.HealthSample {
	start := &attemptStart{}
	ctx = context.WithValue(ctx, attemptKey{}, start)

	sample := models.HealthSample{Status: models.HealthDown}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Warn("invalid probe url", "url", url, "error", err)
		sample.Timestamp = p.clock.Now()
		p.remember(url, sample)
		return sample
	}

	resp, err := p.clientFor(timeout).Do(req)
	now := p.clock.Now()
	sample.Timestamp = now
	if err == nil {
		resp.Body.Close()
		if ok(resp.StatusCode) {
			sample.Status = models.HealthOK
			if at := start.get(); !at.IsZero() {
				sample.LatencyMS = now.Sub(at).Milliseconds()
			}
		}
	}

	p.remember(url, sample)
	return sample
}

// Last returns the last completed sample of url without probing. It is
// "checking" if url was never probed.
func (p *Prober) Last(url string) models.HealthSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.last[url]; ok {
		return s
	}
	return models.HealthSample{Status: models.HealthChecking}
}

func (p *Prober) remember(url string, s models.HealthSample) {
	p.mu.Lock()
	p.last[url] = s
	p.mu.Unlock()
}

func ok(status int) bool {
	return status >= 200 && status < 300
}
