package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"blogfront/internal/auth/notify"
	"blogfront/internal/platform/metrics"
)

const DefaultScopeIdleTTL = 30 * time.Minute

// Scope is the auth state of one browser.
type Scope struct {
	ID           string
	Orchestrator *Orchestrator
	// Flash collects notifications until the browser drains them.
	Flash *notify.Queue

	lastSeen time.Time
}

// Factory builds the scope for a browser seen for the first time.
type Factory func(ctx context.Context, scopeID string) (*Scope, error)

// Registry maps browser scope IDs to their orchestrators. Scopes idle for
// longer than the TTL are dropped by Sweep; their persisted sessions stay
// in the session store and are restored by Start on the next visit.
type Registry struct {
	factory Factory
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	scopes map[string]*Scope
}

type RegistryOption func(r *Registry)

func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(factory Factory, opts ...RegistryOption) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("scope factory is required")
	}
	r := &Registry{
		factory: factory,
		ttl:     DefaultScopeIdleTTL,
		now:     time.Now,
		logger:  slog.Default(),
		scopes:  make(map[string]*Scope),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Get returns the scope for scopeID, building it on first use, and marks it
// as seen.
func (r *Registry) Get(ctx context.Context, scopeID string) (*Scope, error) {
	if scopeID == "" {
		return nil, errors.New("scope id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if sc, ok := r.scopes[scopeID]; ok {
		sc.lastSeen = r.now()
		return sc, nil
	}
	sc, err := r.factory(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	sc.ID = scopeID
	sc.lastSeen = r.now()
	r.scopes[scopeID] = sc
	r.reportLocked()
	return sc, nil
}

// Sweep drops scopes idle for longer than the TTL and returns how many went.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Scope
	for id, sc := range r.scopes {
		if sc.lastSeen.Before(cutoff) {
			expired = append(expired, sc)
			delete(r.scopes, id)
		}
	}
	r.reportLocked()
	r.mu.Unlock()

	for _, sc := range expired {
		if sc.Orchestrator != nil {
			sc.Orchestrator.Close()
		}
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.DebugContext(ctx, "swept idle browser scopes", "count", n)
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scopes)
}

func (r *Registry) reportLocked() {
	if r.metrics != nil {
		r.metrics.SetActiveScopes(len(r.scopes))
	}
}
