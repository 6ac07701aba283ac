package session

import (
	"encoding/json"
	"fmt"

	"blogfront/internal/auth/models"
	"blogfront/pkg/platform/sentinel"
)

// DefaultPrefix namespaces session keys.
const DefaultPrefix = "blogfront:session:"

// DefaultScope is used when a store is used as a plain single-browser library.
const DefaultScope = "default"

const (
	tokenSuffix = ":token"
	userSuffix  = ":user"
)

func tokenKey(prefix, scope string) string { return prefix + scope + tokenSuffix }
func userKey(prefix, scope string) string  { return prefix + scope + userSuffix }

// encode validates the pair and returns the user JSON to persist next to the
// token. Invalid pairs never reach the backend.
func encode(token string, user models.User) (string, error) {
	s := models.Session{LocalToken: token, User: user}
	if err := s.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", sentinel.ErrInvalidState, err)
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("encode user: %w", err)
	}
	return string(raw), nil
}

// decode rebuilds a session from the two persisted values. Anything missing,
// unparsable or invalid yields nil: a half-written or corrupted session is
// treated as no session.
func decode(token, userJSON string) *models.Session {
	if token == "" || userJSON == "" {
		return nil
	}
	var user models.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil
	}
	s := &models.Session{LocalToken: token, User: user}
	if s.Validate() != nil {
		return nil
	}
	if claims, ok := models.ParseTokenClaims(token); ok {
		s.ObtainedAt = claims.IssuedAt
	}
	return s
}
