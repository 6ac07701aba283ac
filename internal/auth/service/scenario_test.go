package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogfront/internal/auth/adapters/userservice"
	"blogfront/internal/auth/identity"
	"blogfront/internal/auth/models"
	"blogfront/internal/auth/notify"
	"blogfront/internal/auth/store/session"
)

// These tests run the orchestrator against the real user-service client
// (pointed at an httptest server) and the in-memory session store. Only the
// identity provider is faked.

type fakeProvider struct {
	identity.Broadcaster

	mu         sync.Mutex
	idToken    string
	signOutErr error
}

func (p *fakeProvider) SignIn(context.Context) (string, error) {
	return "https://idp.test/authorize", nil
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.idToken = ""
	err := p.signOutErr
	p.mu.Unlock()
	p.Publish(ctx, models.ProviderState{})
	return err
}

func (p *fakeProvider) IDToken(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idToken, nil
}

func (p *fakeProvider) State() models.ProviderState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.ProviderState{IsAuthenticated: p.idToken != "", IDToken: p.idToken}
}

// login simulates a completed provider redirect.
func (p *fakeProvider) login(ctx context.Context, idToken string) {
	p.mu.Lock()
	p.idToken = idToken
	p.mu.Unlock()
	p.Publish(ctx, models.ProviderState{IsAuthenticated: true, IDToken: idToken})
}

type harness struct {
	provider *fakeProvider
	store    *session.InMemoryStore
	flash    *notify.Queue
	orch     *Orchestrator
}

func newHarness(t *testing.T, mux *http.ServeMux) *harness {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	h := &harness{
		provider: &fakeProvider{},
		store:    session.New(),
		flash:    notify.NewQueue(8),
	}
	orch, err := New(h.provider, userservice.New(server.URL), h.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(h.flash),
	)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func levels(ns []notify.Notification) []notify.Level {
	out := make([]notify.Level, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Level)
	}
	return out
}

// blockingExchange answers the exchange endpoint only after release is
// closed, signalling each arrival on arrived.
func blockingExchange(hits *atomic.Int32, arrived chan<- struct{}, release <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		arrived <- struct{}{}
		<-release
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "sess-late",
			"user":  map[string]any{"id": "u9", "role": "admin"},
		})
	}
}

// blockingProfile rejects the bearer token with 401 only after release is
// closed, signalling each arrival on arrived.
func blockingProfile(hits *atomic.Int32, arrived chan<- struct{}, release <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		arrived <- struct{}{}
		<-release
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
	}
}

func TestExchangeEndToEnd(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/asgardeo/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDToken string `json:"idToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IDToken != "idtok-123" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad id token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "sess-abc",
			"user":  map[string]any{"id": "u1", "email": "u1@example.com", "role": "author"},
		})
	})
	h := newHarness(t, mux)

	h.provider.login(ctx, "idtok-123")

	assert.Equal(t, models.StateAuthenticated, h.orch.State())
	assert.True(t, h.orch.IsAuthenticated())
	assert.True(t, h.orch.IsAuthor())
	assert.False(t, h.orch.IsAdmin())

	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "sess-abc", stored.LocalToken)
	assert.Equal(t, "u1", stored.User.ID)
	assert.Equal(t, []notify.Level{notify.LevelSuccess}, levels(h.flash.Drain()))
}

func TestExchangeServerErrorLeavesStore(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/asgardeo/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
	})

	t.Run("empty store stays empty", func(t *testing.T) {
		h := newHarness(t, mux)

		h.provider.login(ctx, "idtok-123")

		assert.Equal(t, models.StateUnauthenticated, h.orch.State())
		assert.False(t, h.orch.IsAuthenticated())
		assert.Zero(t, h.store.Len())
		assert.Equal(t, []notify.Level{notify.LevelError}, levels(h.flash.Drain()))
	})

	t.Run("prior session is kept", func(t *testing.T) {
		h := newHarness(t, mux)
		prior := models.User{ID: "u0", Role: models.RoleReader}
		require.NoError(t, h.store.Save(ctx, "sess-old", prior))

		h.provider.login(ctx, "idtok-123")

		assert.Equal(t, models.StateUnauthenticated, h.orch.State())
		stored, err := h.store.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "sess-old", stored.LocalToken)
		assert.Equal(t, prior, stored.User)
	})
}

func TestExchangeResponseWithoutUser(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/asgardeo/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"token": "t1"})
	})
	h := newHarness(t, mux)

	h.provider.login(ctx, "idtok-123")

	assert.Equal(t, models.StateUnauthenticated, h.orch.State())
	assert.Nil(t, h.orch.User())
	assert.Zero(t, h.store.Len())
}

func TestStartupWithRejectedSession(t *testing.T) {
	ctx := context.Background()
	var profileAuth atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/profile", func(w http.ResponseWriter, r *http.Request) {
		profileAuth.Store(r.Header.Get("Authorization"))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
	})
	h := newHarness(t, mux)
	require.NoError(t, h.store.Save(ctx, "sess-stale", models.User{ID: "u1", Role: models.RoleAdmin}))

	h.orch.Start(ctx)

	assert.Equal(t, "Bearer sess-stale", profileAuth.Load())
	assert.Equal(t, models.StateUnauthenticated, h.orch.State())
	assert.False(t, h.orch.IsAdmin())
	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.flash.Drain(), "verification failure must be silent")
}

func TestConcurrentStartVerifiesOnce(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/profile", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(20 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": "u1", "role": "editor"}})
	})
	h := newHarness(t, mux)
	require.NoError(t, h.store.Save(ctx, "sess-1", models.User{ID: "u1", Role: models.RoleReader}))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.Start(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	assert.Eventually(t, func() bool { return h.orch.State() == models.StateAuthenticated }, time.Second, 5*time.Millisecond)
	assert.True(t, h.orch.IsEditor())
}

func TestStartCallersWaitForVerification(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/profile", blockingProfile(&hits, arrived, release))
	h := newHarness(t, mux)
	require.NoError(t, h.store.Save(ctx, "sess-stale", models.User{ID: "u1", Role: models.RoleAdmin}))

	first := make(chan struct{})
	go func() {
		defer close(first)
		h.orch.Start(ctx)
	}()
	<-arrived

	type observed struct {
		state   models.State
		isAdmin bool
	}
	second := make(chan observed, 1)
	go func() {
		h.orch.Start(ctx)
		second <- observed{state: h.orch.State(), isAdmin: h.orch.IsAdmin()}
	}()

	select {
	case got := <-second:
		t.Fatalf("second Start returned before verification settled: state=%s", got.state)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-first

	got := <-second
	assert.Equal(t, models.StateUnauthenticated, got.state)
	assert.False(t, got.isAdmin)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoginDuringFailedVerificationExchanges(t *testing.T) {
	ctx := context.Background()
	var profileHits, exchangeHits atomic.Int32
	var exchangedToken atomic.Value
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/profile", blockingProfile(&profileHits, arrived, release))
	mux.HandleFunc("POST /api/auth/asgardeo/login", func(w http.ResponseWriter, r *http.Request) {
		exchangeHits.Add(1)
		var body struct {
			IDToken string `json:"idToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		exchangedToken.Store(body.IDToken)
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "sess-new",
			"user":  map[string]any{"id": "u2", "role": "editor"},
		})
	})
	h := newHarness(t, mux)
	require.NoError(t, h.store.Save(ctx, "sess-old", models.User{ID: "u1", Role: models.RoleReader}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orch.Start(ctx)
	}()
	<-arrived

	h.provider.login(ctx, "idtok-fresh")
	assert.Equal(t, models.StateLocalOnly, h.orch.State())
	assert.Zero(t, exchangeHits.Load(), "held session defers the exchange")

	close(release)
	<-done

	assert.Equal(t, int32(1), exchangeHits.Load())
	assert.Equal(t, "idtok-fresh", exchangedToken.Load())
	assert.Equal(t, models.StateAuthenticated, h.orch.State())
	assert.True(t, h.orch.IsEditor())
	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "sess-new", stored.LocalToken)
	assert.Equal(t, []notify.Level{notify.LevelSuccess}, levels(h.flash.Drain()))
}

func TestSingleExchangeInFlight(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	arrived := make(chan struct{}, 4)
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/asgardeo/login", blockingExchange(&hits, arrived, release))
	h := newHarness(t, mux)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.provider.login(ctx, "idtok-1")
	}()
	<-arrived
	assert.Equal(t, models.StateExchangePending, h.orch.State())

	h.orch.HandleProviderChange(ctx, models.ProviderState{IsAuthenticated: true, IDToken: "idtok-1"})
	h.orch.HandleProviderChange(ctx, models.ProviderState{IsAuthenticated: true, IDToken: "idtok-1"})
	close(release)
	<-done

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, models.StateAuthenticated, h.orch.State())
}

func TestLogoutDuringPendingExchange(t *testing.T) {
	ctx := context.Background()
	var hits atomic.Int32
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/asgardeo/login", blockingExchange(&hits, arrived, release))
	h := newHarness(t, mux)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.provider.login(ctx, "idtok-1")
	}()
	<-arrived

	assert.Equal(t, "/", h.orch.Logout(ctx))
	close(release)
	<-done

	assert.Equal(t, models.StateUnauthenticated, h.orch.State())
	assert.Nil(t, h.orch.User())
	assert.Zero(t, h.store.Len(), "late exchange result must not be persisted")
}

func TestLogoutSurvivesProviderFailure(t *testing.T) {
	ctx := context.Background()
	var logoutAuth atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/asgardeo/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"token": "t1", "user": map[string]any{"id": "u1", "role": "admin"}})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		logoutAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusBadGateway)
	})
	h := newHarness(t, mux)
	h.provider.login(ctx, "idtok-1")
	require.True(t, h.orch.IsAdmin())
	h.provider.mu.Lock()
	h.provider.signOutErr = errors.New("idp unreachable")
	h.provider.mu.Unlock()

	h.orch.Logout(ctx)

	assert.Equal(t, "Bearer t1", logoutAuth.Load())
	assert.False(t, h.orch.IsAuthenticated())
	assert.False(t, h.orch.IsAdmin())
	assert.Zero(t, h.store.Len())
}
