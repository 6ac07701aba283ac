package models

import (
	"strings"
	"time"

	dErrors "blogfront/pkg/domain-errors"
)

// Session is the local session held for one browser: the bearer token issued
// by the user-service and the user it belongs to. Both are always present.
type Session struct {
	LocalToken string
	User       User
	ObtainedAt time.Time
}

// Validate rejects half-built sessions.
func (s *Session) Validate() error {
	if s == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "session is nil")
	}
	if strings.TrimSpace(s.LocalToken) == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "session token is required")
	}
	if err := s.User.Validate(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "session user is invalid")
	}
	return nil
}

// ExchangeResult is a successful token exchange response.
type ExchangeResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// Session builds a session from the result, stamped at now.
func (r *ExchangeResult) Session(now time.Time) *Session {
	if r == nil || r.User == nil {
		return nil
	}
	return &Session{LocalToken: r.Token, User: *r.User, ObtainedAt: now}
}
