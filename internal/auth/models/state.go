package models

import "context"

// State is the orchestrator's position in the auth lifecycle.
type State int

const (
	StateUnresolved State = iota
	StateLocalOnly
	StateExchangePending
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateLocalOnly:
		return "local_only"
	case StateExchangePending:
		return "exchange_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ProviderState is what the identity provider client reports.
type ProviderState struct {
	IsAuthenticated bool
	IDToken         string
}

// ProviderListener receives identity provider state changes.
type ProviderListener func(ctx context.Context, state ProviderState)

// Snapshot is the consumer-facing view of the auth state.
type Snapshot struct {
	State           State `json:"state"`
	User            *User `json:"user"`
	IsAuthenticated bool  `json:"isAuthenticated"`
	IsAdmin         bool  `json:"isAdmin"`
	IsEditor        bool  `json:"isEditor"`
	IsAuthor        bool  `json:"isAuthor"`
}

// NewSnapshot derives the role flags from user. authenticated is passed in
// because a user held during LocalOnly still counts.
func NewSnapshot(state State, user *User, authenticated bool) Snapshot {
	caps := CapabilitiesOf(user)
	var u *User
	if user != nil {
		cp := *user
		u = &cp
	}
	return Snapshot{
		State:           state,
		User:            u,
		IsAuthenticated: authenticated,
		IsAdmin:         caps.Admin,
		IsEditor:        caps.Editor,
		IsAuthor:        caps.Author,
	}
}
