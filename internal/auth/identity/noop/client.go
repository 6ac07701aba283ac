// Package noop is the identity adapter for non-interactive contexts: server
// prerendering, CLIs and tests. It is never authenticated.
package noop

import (
	"context"

	"blogfront/internal/auth/identity"
	"blogfront/internal/auth/models"
)

type Client struct{}

var _ identity.Provider = Client{}

func New() Client { return Client{} }

func (Client) SignIn(context.Context) (string, error) {
	return "", identity.ErrNotInteractive
}

func (Client) SignOut(context.Context) error { return nil }

func (Client) IDToken(context.Context) (string, error) { return "", nil }

func (Client) State() models.ProviderState { return models.ProviderState{} }

func (Client) Subscribe(models.ProviderListener) func() { return func() {} }
