package testutil

import "net/http"

// WithScopeCookie attaches the browser scope cookie to a request.
func WithScopeCookie(req *http.Request, cookieName, scopeID string) *http.Request {
	req.AddCookie(&http.Cookie{Name: cookieName, Value: scopeID})
	return req
}
