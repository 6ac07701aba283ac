package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserScope(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	var seen string
	h := BrowserScope("blogfront_scope", false, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetScopeID(r.Context())
	}))

	t.Run("issues cookie when missing", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "blogfront_scope", cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
		assert.Equal(t, cookies[0].Value, seen)
		_, err := uuid.Parse(seen)
		assert.NoError(t, err)
	})

	t.Run("reuses valid cookie", func(t *testing.T) {
		id := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: "blogfront_scope", Value: id})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Empty(t, rr.Result().Cookies())
		assert.Equal(t, id, seen)
	})

	t.Run("replaces malformed cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: "blogfront_scope", Value: "../../etc"})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		require.Len(t, rr.Result().Cookies(), 1)
		assert.NotEqual(t, "../../etc", seen)
	})
}

func TestGetScopeID_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetScopeID(req.Context()))
}

func TestRequestContext(t *testing.T) {
	var reqID string
	h := chimw.RequestID(RequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID = GetRequestID(r.Context())
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, reqID)
}
