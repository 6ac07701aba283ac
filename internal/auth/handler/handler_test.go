package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"blogfront/internal/auth/adapters/userservice"
	"blogfront/internal/auth/identity"
	"blogfront/internal/auth/models"
	"blogfront/internal/auth/notify"
	"blogfront/internal/auth/service"
	"blogfront/internal/auth/store/session"
	"blogfront/internal/platform/middleware"
	dErrors "blogfront/pkg/domain-errors"
	"blogfront/pkg/testutil"
)

const cookieName = "blogfront_scope"

// fakeIDP is an interactive identity provider: Callback succeeds for the code
// "good" and nothing else.
type fakeIDP struct {
	identity.Broadcaster

	mu        sync.Mutex
	idToken   string
	signInErr error
}

func (p *fakeIDP) SignIn(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signInErr != nil {
		return "", p.signInErr
	}
	return "https://idp.test/authorize?state=s1", nil
}

func (p *fakeIDP) SignUpURL(context.Context) (string, error) {
	return "https://idp.test/authorize?state=s2&prompt=login", nil
}

func (p *fakeIDP) Callback(ctx context.Context, state, code string) error {
	if code != "good" {
		return dErrors.New(dErrors.CodeProviderFailed, "authorization code is missing")
	}
	p.mu.Lock()
	p.idToken = "idtok-" + state
	p.mu.Unlock()
	p.Publish(ctx, models.ProviderState{IsAuthenticated: true, IDToken: "idtok-" + state})
	return nil
}

func (p *fakeIDP) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.idToken = ""
	p.mu.Unlock()
	p.Publish(ctx, models.ProviderState{})
	return nil
}

func (p *fakeIDP) IDToken(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idToken, nil
}

func (p *fakeIDP) State() models.ProviderState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.ProviderState{IsAuthenticated: p.idToken != "", IDToken: p.idToken}
}

func (p *fakeIDP) EndSessionURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idToken == "" {
		return ""
	}
	return "https://idp.test/logout?id_token_hint=" + p.idToken
}

// =============================================================================
// Auth Handler Test Suite
// =============================================================================
// Justification: handlers are thin, but they own redirect targets, the order
// of EndSessionURL and Logout, and the JSON shapes the browser depends on.

type HandlerSuite struct {
	suite.Suite
	userService *httptest.Server
	providers   map[string]*fakeIDP
	router      http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/asgardeo/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"sess-abc","user":{"id":"u1","email":"u1@example.com","firstName":"Ada","role":"author"}}`))
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.userService = httptest.NewServer(mux)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.New()
	users := userservice.New(s.userService.URL)
	s.providers = make(map[string]*fakeIDP)
	var mu sync.Mutex

	registry, err := service.NewRegistry(func(ctx context.Context, scopeID string) (*service.Scope, error) {
		p := &fakeIDP{}
		mu.Lock()
		s.providers[scopeID] = p
		mu.Unlock()
		flash := notify.NewQueue(8)
		orch, err := service.New(p, users, store.WithScope(scopeID),
			service.WithLogger(logger),
			service.WithNotifier(notify.Fanout{flash, notify.Log{Logger: logger}}),
		)
		if err != nil {
			return nil, err
		}
		return &service.Scope{Orchestrator: orch, Flash: flash}, nil
	})
	s.Require().NoError(err)

	h := New(registry, PublicConfig{
		ClientID:    "client-1",
		BaseURL:     "https://api.asgardeo.io/t/blog",
		RedirectURL: "http://localhost:3000/auth/callback",
		Scopes:      []string{"openid", "profile"},
	}, "/", logger)

	r := chi.NewRouter()
	r.Use(middleware.BrowserScope(cookieName, false, logger))
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) TearDownTest() {
	s.userService.Close()
}

func (s *HandlerSuite) do(method, path, scopeID string) *httptest.ResponseRecorder {
	req := testutil.NewRequest(s.T(), method, path)
	if scopeID != "" {
		req = testutil.WithScopeCookie(req, cookieName, scopeID)
	}
	return testutil.DoRequest(s.router, req)
}

// newBrowser makes a first request and returns the issued scope ID.
func (s *HandlerSuite) newBrowser() string {
	rr := s.do(http.MethodGet, "/auth/me", "")
	cookies := rr.Result().Cookies()
	s.Require().Len(cookies, 1)
	return cookies[0].Value
}

func (s *HandlerSuite) me(scopeID string) models.Snapshot {
	rr := s.do(http.MethodGet, "/auth/me", scopeID)
	testutil.AssertStatusOK(s.T(), rr)
	var snap struct {
		State           string       `json:"state"`
		User            *models.User `json:"user"`
		IsAuthenticated bool         `json:"isAuthenticated"`
		IsAdmin         bool         `json:"isAdmin"`
		IsEditor        bool         `json:"isEditor"`
		IsAuthor        bool         `json:"isAuthor"`
	}
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &snap))
	return models.Snapshot{
		User:            snap.User,
		IsAuthenticated: snap.IsAuthenticated,
		IsAdmin:         snap.IsAdmin,
		IsEditor:        snap.IsEditor,
		IsAuthor:        snap.IsAuthor,
	}
}

func (s *HandlerSuite) notifications(scopeID string) []notify.Notification {
	rr := s.do(http.MethodGet, "/auth/notifications", scopeID)
	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[notificationsResponse](s.T(), rr)
	return resp.Notifications
}

func (s *HandlerSuite) TestConfig() {
	rr := s.do(http.MethodGet, "/api/config", "")

	testutil.AssertStatusOK(s.T(), rr)
	assert.JSONEq(s.T(), `{"asgardeo":{
		"clientId":"client-1",
		"baseUrl":"https://api.asgardeo.io/t/blog",
		"redirectUrl":"http://localhost:3000/auth/callback",
		"scope":["openid","profile"]}}`, rr.Body.String())
}

func (s *HandlerSuite) TestMeForNewBrowser() {
	rr := s.do(http.MethodGet, "/auth/me", "")

	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "state", "unauthenticated")
	testutil.AssertJSONContains(s.T(), rr, "isAuthenticated", false)
	testutil.AssertJSONHasKey(s.T(), rr, "user")
}

func (s *HandlerSuite) TestLogin() {
	s.Run("redirects to provider", func() {
		rr := s.do(http.MethodGet, "/auth/login", "")

		testutil.AssertStatus(s.T(), rr, http.StatusFound)
		s.Equal("https://idp.test/authorize?state=s1", rr.Header().Get("Location"))
	})

	s.Run("provider failure is a provider error", func() {
		scopeID := s.newBrowser()
		s.providers[scopeID].mu.Lock()
		s.providers[scopeID].signInErr = errors.New("discovery failed")
		s.providers[scopeID].mu.Unlock()

		rr := s.do(http.MethodGet, "/auth/login", scopeID)

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadGateway, string(dErrors.CodeProviderFailed))
		s.Require().Len(s.notifications(scopeID), 1)
	})

	s.Run("sign up adds the login prompt", func() {
		rr := s.do(http.MethodGet, "/auth/signup", "")

		testutil.AssertStatus(s.T(), rr, http.StatusFound)
		s.Contains(rr.Header().Get("Location"), "prompt=login")
	})
}

func (s *HandlerSuite) TestCallbackAndLogout() {
	t := s.T()
	scopeID := s.newBrowser()

	testutil.Given(t, "a completed provider redirect", func(t *testing.T) {
		rr := s.do(http.MethodGet, "/auth/callback?state=s1&code=good", scopeID)

		testutil.AssertStatus(t, rr, http.StatusFound)
		assert.Equal(t, "/", rr.Header().Get("Location"))

		testutil.Then(t, "the browser is signed in as an author", func(t *testing.T) {
			snap := s.me(scopeID)
			require.NotNil(t, snap.User)
			assert.Equal(t, "u1", snap.User.ID)
			assert.True(t, snap.IsAuthenticated)
			assert.True(t, snap.IsAuthor)
			assert.False(t, snap.IsAdmin)
		})

		testutil.Then(t, "a welcome notification is drained once", func(t *testing.T) {
			ns := s.notifications(scopeID)
			require.Len(t, ns, 1)
			assert.Equal(t, notify.LevelSuccess, ns[0].Level)
			assert.Contains(t, ns[0].Message, "Ada")
			assert.Empty(t, s.notifications(scopeID))
		})
	})

	testutil.When(t, "the browser logs out", func(t *testing.T) {
		rr := s.do(http.MethodPost, "/auth/logout", scopeID)

		testutil.AssertStatus(t, rr, http.StatusFound)
		assert.Equal(t, "https://idp.test/logout?id_token_hint=idtok-s1", rr.Header().Get("Location"))

		testutil.Then(t, "the browser is signed out", func(t *testing.T) {
			snap := s.me(scopeID)
			assert.Nil(t, snap.User)
			assert.False(t, snap.IsAuthenticated)
		})
	})
}

func (s *HandlerSuite) TestLogoutWithoutProviderSession() {
	scopeID := s.newBrowser()

	rr := s.do(http.MethodPost, "/auth/logout", scopeID)

	testutil.AssertStatus(s.T(), rr, http.StatusFound)
	s.Equal("/", rr.Header().Get("Location"))
}

func (s *HandlerSuite) TestCallbackFailure() {
	scopeID := s.newBrowser()

	rr := s.do(http.MethodGet, "/auth/callback?state=s1&error=access_denied", scopeID)

	testutil.AssertStatus(s.T(), rr, http.StatusFound)
	s.Equal("/", rr.Header().Get("Location"))
	ns := s.notifications(scopeID)
	s.Require().Len(ns, 1)
	s.Equal(notify.LevelError, ns[0].Level)
	s.False(s.me(scopeID).IsAuthenticated)
}

func (s *HandlerSuite) TestMissingScopeMiddleware() {
	h := New(nil, PublicConfig{}, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)

	rr := testutil.DoRequest(r, testutil.NewRequest(s.T(), http.MethodGet, "/auth/me"))

	testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, string(dErrors.CodeInternal))
}
