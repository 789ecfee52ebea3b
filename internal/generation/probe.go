package generation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reelsmith/reelsmith-agent/internal/config"
)

const defaultProbeTTL = 5 * time.Minute

// Capabilities is what the generation service reported it can do.
type Capabilities struct {
	Version  string
	Healthy  bool
	Backends map[string]bool
	Images   bool
	Combine  bool
	ProbedAt time.Time
}

// Supports reports whether the named video backend is available.
func (c *Capabilities) Supports(backend string) bool {
	return c != nil && c.Backends[backend]
}

// PreferredBackend returns want if the service supports it, otherwise any
// supported backend, otherwise want.
func (c *Capabilities) PreferredBackend(want string) string {
	if c == nil || c.Supports(want) {
		return want
	}
	for _, name := range []string{config.BackendInterpolation, config.BackendScene} {
		if c.Supports(name) {
			return name
		}
	}
	return want
}

type healthChecker interface {
	Health(ctx context.Context) (*Health, error)
}

// CachedProbe caches health probes of the generation service with a TTL.
type CachedProbe struct {
	checker healthChecker
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedProbe(checker healthChecker, timeout time.Duration, logger *slog.Logger) *CachedProbe {
	return &CachedProbe{
		checker: checker,
		ttl:     defaultProbeTTL,
		timeout: timeout,
		logger:  logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (p *CachedProbe) Get(ctx context.Context) (*Capabilities, error) {
	p.mu.RLock()
	if p.cached != nil && time.Since(p.cached.ProbedAt) < p.ttl {
		caps := p.cached
		p.mu.RUnlock()
		return caps, nil
	}
	p.mu.RUnlock()

	return p.Refresh(ctx)
}

func (p *CachedProbe) Peek() *Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// Refresh probes regardless of cache freshness. On failure the stale cache is
// returned when there is one.
func (p *CachedProbe) Refresh(ctx context.Context) (*Capabilities, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	h, err := p.checker.Health(ctx)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("generation service probe failed", "error", err)
		}
		if p.cached != nil {
			return p.cached, nil
		}
		return nil, err
	}

	caps := &Capabilities{
		Version:  h.Version,
		Healthy:  h.Status == "" || h.Status == "ok" || h.Status == "healthy",
		Backends: make(map[string]bool),
		Images:   h.Images,
		Combine:  h.Combine,
		ProbedAt: time.Now(),
	}
	for _, b := range h.Backends {
		caps.Backends[b] = true
	}
	p.cached = caps
	return caps, nil
}

func (p *CachedProbe) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}
