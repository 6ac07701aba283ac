// Package identity defines the capability the auth orchestrator needs from
// an identity provider client, plus the listener plumbing shared by the
// adapters. Adapters live in the oidc and noop sub-packages and are chosen
// explicitly at startup.
package identity

import (
	"context"
	"errors"
	"slices"
	"sync"

	"blogfront/internal/auth/models"
)

// ErrNotInteractive is returned by SignIn on adapters that cannot start a
// browser login.
var ErrNotInteractive = errors.New("identity provider is not interactive")

// Provider is the identity provider client capability.
type Provider interface {
	// SignIn starts a login and returns the URL the browser must visit.
	SignIn(ctx context.Context) (string, error)
	SignOut(ctx context.Context) error
	// IDToken returns the current ID token, or "" when none is held.
	IDToken(ctx context.Context) (string, error)
	State() models.ProviderState
	Subscribe(fn models.ProviderListener) (unsubscribe func())
}

// Broadcaster fans provider state changes out to subscribers. The zero value
// is ready to use.
type Broadcaster struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]models.ProviderListener
}

func (b *Broadcaster) Subscribe(fn models.ProviderListener) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[int]models.ProviderListener)
	}
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Publish calls every listener synchronously, in subscription order, without
// holding the lock so listeners may call back into the provider.
func (b *Broadcaster) Publish(ctx context.Context, state models.ProviderState) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	fns := make([]models.ProviderListener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, b.listeners[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, state)
	}
}

