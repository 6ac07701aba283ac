package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blogfront/internal/auth/adapters/userservice"
	"blogfront/internal/auth/handler"
	"blogfront/internal/auth/identity/noop"
	"blogfront/internal/auth/identity/oidc"
	"blogfront/internal/auth/notify"
	"blogfront/internal/auth/service"
	"blogfront/internal/auth/store/session"
	"blogfront/internal/platform/config"
	"blogfront/internal/platform/httpserver"
	"blogfront/internal/platform/logger"
	"blogfront/internal/platform/metrics"
	"blogfront/internal/platform/middleware"
	"blogfront/internal/platform/redis"
	"blogfront/pkg/platform/httputil"
)

const (
	flashLimit      = 16
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	m := metrics.New()

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	sessions := newSessionStores(redisClient, cfg.Session)

	auditPublisher, closeAudit, err := newAuditPublisher(ctx, cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	providers, err := newProviders(ctx, cfg.Identity)
	if err != nil {
		return err
	}

	users := userservice.New(cfg.UserService.URL,
		userservice.WithHTTPClient(&http.Client{Timeout: cfg.UserService.Timeout}),
		userservice.WithLogger(log),
		userservice.WithMetrics(m),
	)

	registry, err := service.NewRegistry(func(ctx context.Context, scopeID string) (*service.Scope, error) {
		flash := notify.NewQueue(flashLimit)
		opts := []service.Option{
			service.WithLogger(log.With("scope_id", scopeID)),
			service.WithMetrics(m),
			service.WithNotifier(notify.Fanout{flash, notify.Log{Logger: log}}),
			service.WithLandingRoute(cfg.LandingRoute),
		}
		if auditPublisher != nil {
			opts = append(opts, service.WithAuditPublisher(auditPublisher))
		}
		orch, err := service.New(providers(), users, sessions(scopeID), opts...)
		if err != nil {
			return nil, err
		}
		return &service.Scope{Orchestrator: orch, Flash: flash}, nil
	},
		service.WithIdleTTL(cfg.ScopeIdleTTL),
		service.WithRegistryLogger(log),
		service.WithRegistryMetrics(m),
	)
	if err != nil {
		return err
	}
	go registry.Run(ctx, sweepInterval)

	authHandler := handler.New(registry, handler.PublicConfig{
		ClientID:    cfg.Identity.ClientID,
		BaseURL:     cfg.Identity.BaseURL,
		RedirectURL: cfg.Identity.RedirectURL,
		Scopes:      cfg.Identity.Scopes,
	}, cfg.LandingRoute, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestContext)
	r.Get("/healthz", healthHandler(redisClient))
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(middleware.BrowserScope(cfg.ScopeCookie, cfg.Environment == "production", log))
		authHandler.Register(r)
	})

	srv := httpserver.New(cfg.Addr, r)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting blogfront", "addr", cfg.Addr, "identity_mode", cfg.Identity.Mode, "audit_sink", cfg.Audit.Sink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newSessionStores returns a per-scope session store factory backed by Redis
// when configured, or by a process-local map otherwise.
func newSessionStores(client *redis.Client, cfg config.SessionConfig) func(scopeID string) service.SessionStore {
	if client != nil {
		base := session.NewRedis(client.Client, session.WithPrefix(cfg.Prefix), session.WithTTL(cfg.TTL))
		return func(scopeID string) service.SessionStore { return base.WithScope(scopeID) }
	}
	base := session.New()
	return func(scopeID string) service.SessionStore { return base.WithScope(scopeID) }
}

// newProviders returns the identity adapter factory selected by config. OIDC
// discovery runs once here; each browser gets its own client.
func newProviders(ctx context.Context, cfg config.IdentityConfig) (func() service.IdentityProvider, error) {
	if cfg.Mode == config.IdentityModeNone {
		return func() service.IdentityProvider { return noop.New() }, nil
	}
	conn, err := oidc.NewConnector(ctx, oidc.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Issuer:       cfg.IssuerURL(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	})
	if err != nil {
		return nil, err
	}
	return func() service.IdentityProvider { return conn.NewClient() }, nil
}

func healthHandler(client *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if client != nil {
			if err := client.Health(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "redis": err.Error()})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
