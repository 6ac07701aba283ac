// Package userservice is the HTTP client for the user-service endpoints the
// auth bridge depends on: ID token exchange, profile verification and logout.
// It never touches the session store.
package userservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"blogfront/internal/auth/models"
	"blogfront/internal/platform/metrics"
	dErrors "blogfront/pkg/domain-errors"
	"blogfront/pkg/platform/circuit"
	"blogfront/pkg/platform/sentinel"
)

const (
	exchangePath = "/api/auth/asgardeo/login"
	profilePath  = "/api/users/profile"
	logoutPath   = "/api/auth/logout"

	maxBodyBytes = 1 << 20
)

// Client calls the user-service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// New builds a client for the user-service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: circuit.New("user-service"),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type exchangeRequest struct {
	IDToken string `json:"idToken"`
}

type exchangeResponse struct {
	Token json.RawMessage `json:"token"`
	User  json.RawMessage `json:"user"`
}

type profileResponse struct {
	User json.RawMessage `json:"user"`
}

// Exchange trades an identity-provider ID token for a local session token.
// Success requires a 2xx response with a non-empty string token and a valid
// user object; anything else is CodeExchangeFailed and nothing is returned.
func (c *Client) Exchange(ctx context.Context, idToken string) (*models.ExchangeResult, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "id token is required")
	}

	body, err := json.Marshal(exchangeRequest{IDToken: idToken})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode exchange request")
	}

	status, raw, err := c.do(ctx, http.MethodPost, exchangePath, "", body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExchangeFailed, "exchange request failed")
	}
	if status < 200 || status > 299 {
		return nil, dErrors.New(dErrors.CodeExchangeFailed, fmt.Sprintf("exchange rejected with status %d", status))
	}

	var resp exchangeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExchangeFailed, "malformed exchange response")
	}
	var token string
	if err := json.Unmarshal(resp.Token, &token); err != nil || token == "" {
		return nil, dErrors.New(dErrors.CodeExchangeFailed, "exchange response missing token")
	}
	user, err := decodeUser(resp.User)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExchangeFailed, "exchange response missing user")
	}
	return &models.ExchangeResult{Token: token, User: user}, nil
}

// Profile fetches the user behind token. 401 and 403 are CodeUnauthorized;
// every other failure is CodeVerificationFailed.
func (c *Client) Profile(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session token is required")
	}

	status, raw, err := c.do(ctx, http.MethodGet, profilePath, token, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeVerificationFailed, "profile request failed")
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session token rejected")
	case status < 200 || status > 299:
		return nil, dErrors.New(dErrors.CodeVerificationFailed, fmt.Sprintf("profile returned status %d", status))
	}

	var resp profileResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeVerificationFailed, "malformed profile response")
	}
	user, err := decodeUser(resp.User)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeVerificationFailed, "profile response missing user")
	}
	return user, nil
}

// Logout tells the user-service to end the session behind token.
func (c *Client) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	status, _, err := c.do(ctx, http.MethodPost, logoutPath, token, nil)
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("logout returned status %d", status)
	}
	return nil
}

func decodeUser(raw json.RawMessage) (*models.User, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("user is not an object")
	}
	var user models.User
	if err := json.Unmarshal(trimmed, &user); err != nil {
		return nil, err
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	return &user, nil
}

// do performs one request through the breaker. Transport errors and 5xx
// responses count as failures; anything else proves the service is up.
func (c *Client) do(ctx context.Context, method, path, bearer string, body []byte) (int, []byte, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return 0, nil, fmt.Errorf("user-service circuit open: %w", sentinel.ErrUnavailable)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure(ctx)
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.recordFailure(ctx)
		return 0, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode >= 500 {
		c.recordFailure(ctx)
	} else {
		c.recordSuccess(ctx)
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) recordFailure(ctx context.Context) {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "user-service circuit opened", "breaker", c.breaker.Name())
		if c.metrics != nil {
			c.metrics.IncrementBreakerTransition(circuit.StateOpen.String())
		}
	}
}

func (c *Client) recordSuccess(ctx context.Context) {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "user-service circuit closed", "breaker", c.breaker.Name())
		if c.metrics != nil {
			c.metrics.IncrementBreakerTransition(circuit.StateClosed.String())
		}
	}
}
