// Package oidc is the interactive identity adapter: an OpenID Connect
// authorization-code client with PKCE, built for Asgardeo but usable with any
// compliant issuer.
//
// A Connector holds what all browsers share (discovery, OAuth2 config, ID
// token verifier). Each browser scope gets its own Client from NewClient.
package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	dErrors "blogfront/pkg/domain-errors"
)

// Config holds the identity provider client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	// Issuer is the OIDC issuer URL used for discovery.
	Issuer      string
	RedirectURL string
	// PostLogoutRedirectURL is passed to the end-session endpoint. Optional.
	PostLogoutRedirectURL string
	Scopes                []string
}

// Connector is safe for concurrent use by every Client it creates.
type Connector struct {
	oauth2        oauth2.Config
	verifier      *gooidc.IDTokenVerifier
	endSessionURL string
	postLogout    string
	httpClient    *http.Client
	now           func() time.Time
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithHTTPClient sets the client used for discovery and code exchange.
func WithHTTPClient(c *http.Client) ConnectorOption {
	return func(conn *Connector) {
		conn.httpClient = c
	}
}

// WithClock overrides the time source used for ID token expiry.
func WithClock(now func() time.Time) ConnectorOption {
	return func(conn *Connector) {
		if now != nil {
			conn.now = now
		}
	}
}

type discoveryClaims struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// NewConnector runs OIDC discovery against cfg.Issuer.
func NewConnector(ctx context.Context, cfg Config, opts ...ConnectorOption) (*Connector, error) {
	conn := &Connector{now: time.Now, postLogout: cfg.PostLogoutRedirectURL}
	for _, opt := range opts {
		opt(conn)
	}
	if conn.httpClient != nil {
		ctx = gooidc.ClientContext(ctx, conn.httpClient)
	}

	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderFailed, fmt.Sprintf("discover issuer %s", cfg.Issuer))
	}

	var claims discoveryClaims
	if err := provider.Claims(&claims); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderFailed, "decode discovery document")
	}

	conn.oauth2 = oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       normalizeScopes(cfg.Scopes),
	}
	conn.verifier = provider.Verifier(&gooidc.Config{
		ClientID: cfg.ClientID,
		Now:      conn.now,
	})
	conn.endSessionURL = claims.EndSessionEndpoint
	return conn, nil
}

// NewClient returns a fresh, unauthenticated client for one browser.
func (c *Connector) NewClient() *Client {
	return &Client{conn: c, pending: make(map[string]pendingLogin)}
}

func (c *Connector) exchangeContext(ctx context.Context) context.Context {
	if c.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	return ctx
}

// endSession builds the RP-initiated logout URL, or "" when the issuer does
// not advertise one.
func (c *Connector) endSession(idTokenHint string) string {
	if c.endSessionURL == "" {
		return ""
	}
	u, err := url.Parse(c.endSessionURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("client_id", c.oauth2.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	if c.postLogout != "" {
		q.Set("post_logout_redirect_uri", c.postLogout)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

var defaultScopes = []string{gooidc.ScopeOpenID, "profile", "email", "groups"}

// normalizeScopes trims and dedupes scopes, keeping order, and makes sure
// openid comes first. A list with nothing beyond openid means defaultScopes.
func normalizeScopes(in []string) []string {
	out := []string{gooidc.ScopeOpenID}
	seen := map[string]bool{gooidc.ScopeOpenID: true}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 1 {
		return slices.Clone(defaultScopes)
	}
	return out
}
