// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; the auth service reads them for logging,
// audit and time. Services import this package instead of net/http helpers.
//
// Usage in services (read values):
//
//	scopeID := requestcontext.ScopeID(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	scopeIDKey     struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyScopeID     = scopeIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Browser scope
// -----------------------------------------------------------------------------

// ScopeID retrieves the browser scope ID from the context.
func ScopeID(ctx context.Context) string {
	if scopeID, ok := ctx.Value(ContextKeyScopeID).(string); ok {
		return scopeID
	}
	return ""
}

// WithScopeID injects a browser scope ID into the context.
func WithScopeID(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, ContextKeyScopeID, scopeID)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (background sweeps, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
