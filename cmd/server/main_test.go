package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogfront/internal/auth/identity/noop"
	"blogfront/internal/auth/models"
	"blogfront/internal/platform/config"
	"blogfront/pkg/platform/audit"
)

func TestNewSessionStoresInMemory(t *testing.T) {
	ctx := context.Background()
	stores := newSessionStores(nil, config.SessionConfig{})

	a := stores("browser-a")
	require.NoError(t, a.Save(ctx, "t1", models.User{ID: "u1", Role: models.RoleReader}))

	sess, err := stores("browser-a").Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "t1", sess.LocalToken)

	other, err := stores("browser-b").Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestNewAuditPublisher(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("none disables auditing", func(t *testing.T) {
		pub, closeFn, err := newAuditPublisher(ctx, config.AuditConfig{Sink: config.AuditSinkNone}, log)
		require.NoError(t, err)
		assert.Nil(t, pub)
		closeFn()
	})

	t.Run("memory sink accepts events", func(t *testing.T) {
		pub, closeFn, err := newAuditPublisher(ctx, config.AuditConfig{Sink: config.AuditSinkMemory, AsyncBuffer: 4}, log)
		require.NoError(t, err)
		require.NotNil(t, pub)
		require.NoError(t, pub.Emit(ctx, audit.Event{Action: string(audit.EventLogout), ScopeID: "b1"}))
		closeFn()
	})

	t.Run("unknown sink", func(t *testing.T) {
		_, _, err := newAuditPublisher(ctx, config.AuditConfig{Sink: "s3"}, log)
		require.Error(t, err)
	})
}

func TestNewProvidersNone(t *testing.T) {
	providers, err := newProviders(context.Background(), config.IdentityConfig{Mode: config.IdentityModeNone})
	require.NoError(t, err)
	assert.IsType(t, noop.Client{}, providers())
}

func TestHealthWithoutRedis(t *testing.T) {
	rr := httptest.NewRecorder()
	healthHandler(nil)(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
