package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks
// can apply different retention.
type EventCategory string

const (
	// CategorySecurity covers events relevant to security monitoring:
	// failed logins and sessions rejected by the user-service.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

type AuditEvent string

const (
	EventLoginSucceeded  AuditEvent = "login_succeeded"
	EventLoginFailed     AuditEvent = "login_failed"
	EventSessionVerified AuditEvent = "session_verified"
	EventSessionExpired  AuditEvent = "session_expired"
	EventLogout          AuditEvent = "logout"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventLoginFailed:    CategorySecurity,
	EventSessionExpired: CategorySecurity,

	EventLoginSucceeded:  CategoryOperations,
	EventSessionVerified: CategoryOperations,
	EventLogout:          CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from the auth orchestrator to capture key actions. It is
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string        `json:"id"`
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	// UserID is the user-service user ID, empty when no user is known yet.
	UserID string `json:"user_id,omitempty"`
	// ScopeID identifies the browser the event happened in.
	ScopeID   string `json:"scope_id,omitempty"`
	Action    string `json:"action"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Appender persists or forwards events.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store is an Appender that can also be queried.
type Store interface {
	Appender
	ListByUser(ctx context.Context, userID string) ([]Event, error)
}
