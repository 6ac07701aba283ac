// Package handler exposes the auth orchestrator of each browser over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"blogfront/internal/auth/notify"
	"blogfront/internal/auth/service"
	"blogfront/internal/platform/middleware"
	dErrors "blogfront/pkg/domain-errors"
	"blogfront/pkg/platform/httputil"
)

// Scopes resolves the auth state of the calling browser.
type Scopes interface {
	Get(ctx context.Context, scopeID string) (*service.Scope, error)
}

// PublicConfig is the identity provider configuration the browser may see.
// It never carries the client secret.
type PublicConfig struct {
	ClientID    string
	BaseURL     string
	RedirectURL string
	Scopes      []string
}

type configResponse struct {
	Asgardeo asgardeoConfig `json:"asgardeo"`
}

type asgardeoConfig struct {
	ClientID    string   `json:"clientId"`
	BaseURL     string   `json:"baseUrl"`
	RedirectURL string   `json:"redirectUrl"`
	Scope       []string `json:"scope"`
}

type notificationsResponse struct {
	Notifications []notify.Notification `json:"notifications"`
}

// Handler serves the /auth routes and the runtime config endpoint.
type Handler struct {
	scopes       Scopes
	public       PublicConfig
	landingRoute string
	logger       *slog.Logger
}

func New(scopes Scopes, public PublicConfig, landingRoute string, logger *slog.Logger) *Handler {
	if landingRoute == "" {
		landingRoute = service.DefaultLandingRoute
	}
	return &Handler{
		scopes:       scopes,
		public:       public,
		landingRoute: landingRoute,
		logger:       logger,
	}
}

// Register registers the auth routes with the chi router. The router must
// already run the BrowserScope middleware.
func (h *Handler) Register(r chi.Router) {
	r.Get("/auth/login", h.handleLogin)
	r.Get("/auth/signup", h.handleSignUp)
	r.Get("/auth/callback", h.handleCallback)
	r.Post("/auth/logout", h.handleLogout)
	r.Get("/auth/me", h.handleMe)
	r.Get("/auth/notifications", h.handleNotifications)
	r.Get("/api/config", h.handleConfig)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	h.redirectToProvider(w, r, func(ctx context.Context, sc *service.Scope) (string, error) {
		return sc.Orchestrator.SignIn(ctx)
	})
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	h.redirectToProvider(w, r, func(ctx context.Context, sc *service.Scope) (string, error) {
		return sc.Orchestrator.SignUp(ctx)
	})
}

func (h *Handler) redirectToProvider(w http.ResponseWriter, r *http.Request, start func(context.Context, *service.Scope) (string, error)) {
	ctx := r.Context()
	sc, ok := h.scope(w, r)
	if !ok {
		return
	}
	target, err := start(ctx, sc)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to start provider login",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleCallback completes the provider redirect. Failures are reported to
// the browser through its notification queue, so both outcomes land on the
// landing route.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc, ok := h.scope(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.WarnContext(ctx, "identity provider returned an error",
			"request_id", middleware.GetRequestID(ctx),
			"provider_error", providerErr,
			"provider_error_description", q.Get("error_description"),
		)
	}
	if err := sc.Orchestrator.CompleteSignIn(ctx, q.Get("state"), q.Get("code")); err != nil {
		h.logger.WarnContext(ctx, "sign in callback failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	}
	http.Redirect(w, r, h.landingRoute, http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc, ok := h.scope(w, r)
	if !ok {
		return
	}
	sc.Orchestrator.Start(ctx)
	// read before Logout, which forgets the provider login
	endSession := sc.Orchestrator.EndSessionURL()
	target := sc.Orchestrator.Logout(ctx)
	if endSession != "" {
		target = endSession
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc, ok := h.scope(w, r)
	if !ok {
		return
	}
	sc.Orchestrator.Start(ctx)
	httputil.WriteJSON(w, http.StatusOK, sc.Orchestrator.Snapshot())
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scope(w, r)
	if !ok {
		return
	}
	var drained []notify.Notification
	if sc.Flash != nil {
		drained = sc.Flash.Drain()
	} else {
		drained = []notify.Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, notificationsResponse{Notifications: drained})
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	scopes := h.public.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, configResponse{Asgardeo: asgardeoConfig{
		ClientID:    h.public.ClientID,
		BaseURL:     h.public.BaseURL,
		RedirectURL: h.public.RedirectURL,
		Scope:       scopes,
	}})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (*service.Scope, bool) {
	ctx := r.Context()
	scopeID := middleware.GetScopeID(ctx)
	if scopeID == "" {
		h.logger.ErrorContext(ctx, "browser scope missing from context despite scope middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "browser scope error"))
		return nil, false
	}
	sc, err := h.scopes.Get(ctx, scopeID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to resolve browser scope",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve browser scope"))
		return nil, false
	}
	return sc, true
}
