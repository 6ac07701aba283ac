package middleware

import (
	"context"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"blogfront/pkg/requestcontext"
)

// GetScopeID retrieves the browser scope ID from the context.
func GetScopeID(ctx context.Context) string {
	return requestcontext.ScopeID(ctx)
}

// GetRequestID returns the request ID set by RequestContext.
func GetRequestID(ctx context.Context) string {
	if id := requestcontext.RequestID(ctx); id != "" {
		return id
	}
	return chimw.GetReqID(ctx)
}

// RequestContext copies chi's request ID and the request start time into
// requestcontext so services can read them without importing net/http.
// Mount after chi's RequestID middleware.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = requestcontext.WithRequestID(ctx, id)
		}
		ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BrowserScope identifies the calling browser by an opaque cookie. A missing
// or malformed cookie gets a fresh UUID, which is set on the response.
func BrowserScope(cookieName string, secure bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopeID := ""
			if c, err := r.Cookie(cookieName); err == nil {
				if _, perr := uuid.Parse(c.Value); perr == nil {
					scopeID = c.Value
				}
			}
			if scopeID == "" {
				scopeID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    scopeID,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
				logger.DebugContext(r.Context(), "issued browser scope",
					"scope_id", scopeID,
					"request_id", GetRequestID(r.Context()),
				)
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithScopeID(r.Context(), scopeID)))
		})
	}
}
