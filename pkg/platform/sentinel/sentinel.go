package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, adapters and the circuit
// breaker return these (optionally wrapped) so the auth service can translate
// them into domain errors or silent state transitions.
//
//   - ErrNotFound: nothing persisted under the requested key
//   - ErrExpired: the local session token is past its exp claim
//   - ErrInvalidState: a write would produce a half-populated session
//   - ErrUnavailable: a backend is unreachable or its breaker is open
//   - ErrStale: a result arrived after the session generation moved on
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrStale        = errors.New("stale result")
)
