package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"blogfront/internal/auth/identity"
	"blogfront/internal/auth/models"
	dErrors "blogfront/pkg/domain-errors"
)

const (
	maxPendingLogins = 8
	pendingLoginTTL  = 10 * time.Minute
)

type pendingLogin struct {
	verifier  string
	nonce     string
	createdAt time.Time
}

// Client is one browser's view of the identity provider.
type Client struct {
	identity.Broadcaster

	conn *Connector

	mu        sync.Mutex
	pending   map[string]pendingLogin
	idToken   string
	expiresAt time.Time
}

var _ identity.Provider = (*Client)(nil)

// SignIn starts an authorization-code login with PKCE and returns the
// authorize URL.
func (c *Client) SignIn(_ context.Context) (string, error) {
	return c.authorizeURL()
}

// SignUpURL is SignIn with prompt=login, which Asgardeo uses to offer
// self-registration.
func (c *Client) SignUpURL(_ context.Context) (string, error) {
	return c.authorizeURL(oauth2.SetAuthURLParam("prompt", "login"))
}

func (c *Client) authorizeURL(extra ...oauth2.AuthCodeOption) (string, error) {
	state, err := randomString()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeProviderFailed, "generate login state")
	}
	nonce, err := randomString()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeProviderFailed, "generate login nonce")
	}
	verifier := oauth2.GenerateVerifier()

	c.mu.Lock()
	c.prunePendingLocked()
	c.pending[state] = pendingLogin{verifier: verifier, nonce: nonce, createdAt: c.conn.now()}
	c.mu.Unlock()

	opts := append([]oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		gooidc.Nonce(nonce),
	}, extra...)
	return c.conn.oauth2.AuthCodeURL(state, opts...), nil
}

// prunePendingLocked drops expired logins and, if still full, the oldest.
func (c *Client) prunePendingLocked() {
	now := c.conn.now()
	var oldestKey string
	var oldest time.Time
	for k, p := range c.pending {
		if now.Sub(p.createdAt) > pendingLoginTTL {
			delete(c.pending, k)
			continue
		}
		if oldestKey == "" || p.createdAt.Before(oldest) {
			oldestKey, oldest = k, p.createdAt
		}
	}
	if len(c.pending) >= maxPendingLogins && oldestKey != "" {
		delete(c.pending, oldestKey)
	}
}

// Callback completes a login: it redeems code with the PKCE verifier bound to
// state, verifies the ID token and, on success, notifies subscribers that the
// browser is authenticated. Subscribers run before Callback returns.
func (c *Client) Callback(ctx context.Context, state, code string) error {
	c.mu.Lock()
	login, ok := c.pending[state]
	delete(c.pending, state)
	c.mu.Unlock()
	if !ok || c.conn.now().Sub(login.createdAt) > pendingLoginTTL {
		return dErrors.New(dErrors.CodeProviderFailed, "unknown or expired login state")
	}
	if code == "" {
		return dErrors.New(dErrors.CodeProviderFailed, "authorization code is missing")
	}

	tok, err := c.conn.oauth2.Exchange(c.conn.exchangeContext(ctx), code, oauth2.VerifierOption(login.verifier))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeProviderFailed, "redeem authorization code")
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return dErrors.New(dErrors.CodeProviderFailed, "token response has no id_token")
	}
	idt, err := c.conn.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeProviderFailed, "verify id token")
	}
	if idt.Nonce != login.nonce {
		return dErrors.New(dErrors.CodeProviderFailed, "id token nonce mismatch")
	}

	c.mu.Lock()
	c.idToken = rawIDToken
	c.expiresAt = idt.Expiry
	c.mu.Unlock()

	c.Publish(ctx, models.ProviderState{IsAuthenticated: true, IDToken: rawIDToken})
	return nil
}

// SignOut forgets the ID token locally. The provider-side session is ended by
// sending the browser to EndSessionURL.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	had := c.idToken != ""
	c.idToken = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()

	if had {
		c.Publish(ctx, models.ProviderState{})
	}
	return nil
}

func (c *Client) IDToken(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.validLocked() {
		return "", nil
	}
	return c.idToken, nil
}

func (c *Client) State() models.ProviderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.validLocked() {
		return models.ProviderState{}
	}
	return models.ProviderState{IsAuthenticated: true, IDToken: c.idToken}
}

// EndSessionURL returns the provider logout URL hinted with the current ID
// token, or "" when the issuer has no end-session endpoint.
func (c *Client) EndSessionURL() string {
	c.mu.Lock()
	hint := c.idToken
	c.mu.Unlock()
	return c.conn.endSession(hint)
}

func (c *Client) validLocked() bool {
	if c.idToken == "" {
		return false
	}
	return c.expiresAt.IsZero() || c.conn.now().Before(c.expiresAt)
}

func randomString() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
