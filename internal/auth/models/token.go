package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the timing claims read from a local session token.
type TokenClaims struct {
	IssuedAt  time.Time
	ExpiresAt time.Time
}

var unverifiedParser = jwt.NewParser()

// ParseTokenClaims reads iat and exp from a JWT without verifying it. The
// signature belongs to the user-service; this side only needs the timing to
// skip verification of a token that has already expired. ok is false when
// the token is opaque.
func ParseTokenClaims(token string) (claims TokenClaims, ok bool) {
	var mc jwt.MapClaims
	if _, _, err := unverifiedParser.ParseUnverified(token, &mc); err != nil {
		return TokenClaims{}, false
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, true
}

// Expired reports whether the claims carry an exp at or before now.
func (c TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
