// Package service holds the auth orchestrator: the per-browser state machine
// that turns an identity provider login into a local user-service session,
// restores persisted sessions at startup and tells consumers who is signed in.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"blogfront/internal/auth/identity"
	"blogfront/internal/auth/models"
	"blogfront/internal/auth/notify"
	"blogfront/internal/platform/metrics"
	"blogfront/internal/platform/middleware"
	"blogfront/pkg/attrs"
	dErrors "blogfront/pkg/domain-errors"
	"blogfront/pkg/platform/audit"
	"blogfront/pkg/requestcontext"
)

type IdentityProvider interface {
	SignIn(ctx context.Context) (string, error)
	SignOut(ctx context.Context) error
	IDToken(ctx context.Context) (string, error)
	State() models.ProviderState
	Subscribe(fn models.ProviderListener) (unsubscribe func())
}

type UserService interface {
	Exchange(ctx context.Context, idToken string) (*models.ExchangeResult, error)
	Profile(ctx context.Context, token string) (*models.User, error)
	Logout(ctx context.Context, token string) error
}

type SessionStore interface {
	Save(ctx context.Context, token string, user models.User) error
	Load(ctx context.Context) (*models.Session, error)
	Clear(ctx context.Context) error
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Optional provider capabilities, detected by type assertion.
type (
	callbackHandler interface {
		Callback(ctx context.Context, state, code string) error
	}
	signUpper interface {
		SignUpURL(ctx context.Context) (string, error)
	}
	endSessioner interface {
		EndSessionURL() string
	}
)

const (
	DefaultLandingRoute = "/"
	tracerName          = "blogfront/internal/auth/service"
	startKey            = "start"
)

// Orchestrator owns the auth state of one browser scope. It is safe for
// concurrent use.
//
// mu guards the in-memory fields and is never held across I/O. storeMu
// serialises session store writes with the generation check, so a result
// computed before a logout can never be persisted after it.
type Orchestrator struct {
	provider IdentityProvider
	users    UserService
	store    SessionStore

	logger         *slog.Logger
	metrics        *metrics.Metrics
	notifier       Notifier
	auditPublisher AuditPublisher
	tracer         trace.Tracer
	landingRoute   string
	now            func() time.Time

	mu          sync.Mutex
	state       models.State
	session     *models.Session
	generation  uint64
	processing  bool
	started     bool
	listeners   map[int]func(models.Snapshot)
	nextID      int
	unsubscribe func()

	storeMu sync.Mutex
	start   singleflight.Group
}

type Option func(o *Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(o *Orchestrator) {
		o.auditPublisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// WithLandingRoute sets the public route Logout sends the browser to.
func WithLandingRoute(route string) Option {
	return func(o *Orchestrator) {
		if route != "" {
			o.landingRoute = route
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New builds an orchestrator and subscribes it to provider state changes.
func New(provider IdentityProvider, users UserService, store SessionStore, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if users == nil {
		return nil, errors.New("user service is required")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	o := &Orchestrator{
		provider:     provider,
		users:        users,
		store:        store,
		logger:       slog.Default(),
		landingRoute: DefaultLandingRoute,
		now:          time.Now,
		state:        models.StateUnresolved,
		listeners:    make(map[int]func(models.Snapshot)),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	o.unsubscribe = provider.Subscribe(o.HandleProviderChange)
	return o, nil
}

// Close detaches the orchestrator from its provider.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	unsub := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// -----------------------------------------------------------------------------
// Startup
// -----------------------------------------------------------------------------

// Start resolves the initial state from the session store. Only the first
// call does any work; concurrent callers wait for it to finish.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	_, _, _ = o.start.Do(startKey, func() (any, error) {
		o.resolve(ctx)
		return nil, nil
	})
}

func (o *Orchestrator) resolve(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	gen := o.generation
	o.mu.Unlock()

	sess, err := o.store.Load(ctx)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to load persisted session", "error", err)
	}
	if sess == nil {
		o.settleUnresolved(ctx)
		return
	}

	if claims, ok := models.ParseTokenClaims(sess.LocalToken); ok && claims.Expired(o.now()) {
		o.incrementVerification(metrics.OutcomeExpired)
		o.invalidate(ctx, gen, sess.User.ID, "token expired")
		return
	}

	o.mu.Lock()
	if o.generation != gen || o.session != nil {
		o.mu.Unlock()
		return
	}
	o.session = sess
	o.state = models.StateLocalOnly
	o.mu.Unlock()
	o.publish()

	o.verify(ctx, gen, sess)
}

// settleUnresolved moves an empty startup to Unauthenticated, or straight
// into an exchange when the provider already holds a login.
func (o *Orchestrator) settleUnresolved(ctx context.Context) {
	o.mu.Lock()
	changed := false
	if o.state == models.StateUnresolved {
		o.state = models.StateUnauthenticated
		changed = true
	}
	o.mu.Unlock()
	if changed {
		o.publish()
	}
	if ps := o.provider.State(); ps.IsAuthenticated {
		o.HandleProviderChange(ctx, ps)
	}
}

// verify checks a restored session against the user-service profile
// endpoint. Any failure drops the session silently.
func (o *Orchestrator) verify(ctx context.Context, gen uint64, sess *models.Session) {
	ctx, span := o.tracer.Start(ctx, "auth.verify_session")
	defer span.End()
	start := time.Now()
	defer o.observeVerification(start)

	user, err := o.users.Profile(ctx, sess.LocalToken)
	if err == nil {
		err = user.Validate()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		if !o.invalidate(ctx, gen, sess.User.ID, verificationReason(err)) {
			o.incrementVerification(metrics.OutcomeStale)
			return
		}
		o.incrementVerification(metrics.OutcomeFailure)
		return
	}

	committed := o.commit(gen, func() {
		if err := o.store.Save(ctx, sess.LocalToken, *user); err != nil {
			o.logger.WarnContext(ctx, "failed to refresh persisted session", "error", err)
		}
	}, func() {
		o.session = &models.Session{LocalToken: sess.LocalToken, User: *user, ObtainedAt: sess.ObtainedAt}
		o.state = models.StateAuthenticated
	})
	if !committed {
		o.incrementVerification(metrics.OutcomeStale)
		o.logger.DebugContext(ctx, "discarded stale verification result")
		return
	}
	span.SetAttributes(attribute.String("user.role", string(user.Role)))
	o.incrementVerification(metrics.OutcomeSuccess)
	o.logAudit(ctx, string(audit.EventSessionVerified), "user_id", user.ID)
	o.publish()
}

// invalidate clears the store and the in-memory session for generation gen,
// then exchanges if the provider signed in while the session was held.
// Returns false when gen is stale and nothing was touched.
func (o *Orchestrator) invalidate(ctx context.Context, gen uint64, userID, reason string) bool {
	committed := o.commit(gen, func() {
		if err := o.store.Clear(ctx); err != nil {
			o.logger.ErrorContext(ctx, "failed to clear persisted session", "error", err)
		}
	}, func() {
		o.session = nil
		o.state = models.StateUnauthenticated
	})
	if !committed {
		return false
	}
	o.logAudit(ctx, string(audit.EventSessionExpired), "user_id", userID, "reason", reason)
	o.publish()
	if ps := o.provider.State(); ps.IsAuthenticated {
		o.HandleProviderChange(ctx, ps)
	}
	return true
}

func verificationReason(err error) string {
	if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
		return "session rejected"
	}
	return "verification failed"
}

// -----------------------------------------------------------------------------
// Exchange
// -----------------------------------------------------------------------------

// HandleProviderChange reacts to identity provider state changes. An
// authenticated provider with no local user starts a token exchange unless
// one is already running.
func (o *Orchestrator) HandleProviderChange(ctx context.Context, ps models.ProviderState) {
	if !ps.IsAuthenticated {
		return
	}
	o.mu.Lock()
	if o.session != nil {
		o.mu.Unlock()
		return
	}
	if o.processing {
		o.mu.Unlock()
		o.incrementDeduplicated()
		o.logger.DebugContext(ctx, "exchange already in flight, ignoring provider change")
		return
	}
	o.processing = true
	o.started = true
	gen := o.generation
	o.state = models.StateExchangePending
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.processing = false
		o.mu.Unlock()
	}()
	o.publish()
	o.exchange(ctx, gen)
}

func (o *Orchestrator) exchange(ctx context.Context, gen uint64) {
	ctx, span := o.tracer.Start(ctx, "auth.exchange_token")
	defer span.End()
	start := time.Now()
	defer o.observeExchange(start)

	idToken, err := o.provider.IDToken(ctx)
	if err == nil && idToken == "" {
		err = dErrors.New(dErrors.CodeProviderFailed, "identity provider returned no id token")
	}
	if err != nil {
		o.failExchange(ctx, span, gen, "missing id token", err)
		return
	}

	result, err := o.users.Exchange(ctx, idToken)
	if err != nil {
		o.failExchange(ctx, span, gen, "exchange rejected", err)
		return
	}
	sess := result.Session(o.now())
	if err := sess.Validate(); err != nil {
		o.failExchange(ctx, span, gen, "malformed exchange response", err)
		return
	}

	var saveErr error
	committed := o.commit(gen, func() {
		saveErr = o.store.Save(ctx, sess.LocalToken, sess.User)
	}, func() {
		if saveErr != nil {
			return
		}
		o.session = sess
		o.state = models.StateAuthenticated
	})
	if !committed {
		o.incrementExchange(metrics.OutcomeStale)
		o.logger.InfoContext(ctx, "discarded stale exchange result")
		return
	}
	if saveErr != nil {
		o.failExchange(ctx, span, gen, "persist session", saveErr)
		return
	}

	span.SetAttributes(attribute.String("user.role", string(sess.User.Role)))
	o.incrementExchange(metrics.OutcomeSuccess)
	o.logAudit(ctx, string(audit.EventLoginSucceeded), "user_id", sess.User.ID)
	o.raise(ctx, notify.LevelSuccess, "Signed in", "Welcome, "+sess.User.DisplayName()+".")
	o.publish()
}

// failExchange settles a failed exchange as Unauthenticated. The session
// store is left as it was.
func (o *Orchestrator) failExchange(ctx context.Context, span trace.Span, gen uint64, reason string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)

	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		o.incrementExchange(metrics.OutcomeStale)
		return
	}
	if o.session == nil {
		o.state = models.StateUnauthenticated
	}
	o.mu.Unlock()

	o.incrementExchange(metrics.OutcomeFailure)
	o.logger.WarnContext(ctx, "token exchange failed", "reason", reason, "error", err)
	o.logAudit(ctx, string(audit.EventLoginFailed), "reason", reason)
	o.raise(ctx, notify.LevelError, "Sign-in failed", "We could not complete your sign-in. Please try again.")
	o.publish()
}

// commit runs persist and then apply (under mu) only if gen is still
// current. Both run while storeMu is held.
func (o *Orchestrator) commit(gen uint64, persist func(), apply func()) bool {
	o.storeMu.Lock()
	defer o.storeMu.Unlock()

	o.mu.Lock()
	current := o.generation == gen
	o.mu.Unlock()
	if !current {
		return false
	}
	persist()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen {
		return false
	}
	apply()
	return true
}

// -----------------------------------------------------------------------------
// Sign-in and sign-out
// -----------------------------------------------------------------------------

// SignIn asks the identity provider to start a login and returns the URL to
// send the browser to. It does not touch the local session.
func (o *Orchestrator) SignIn(ctx context.Context) (string, error) {
	redirect, err := o.provider.SignIn(ctx)
	if err != nil {
		return "", o.failSignIn(ctx, "sign in", err)
	}
	return redirect, nil
}

// SignUp is SignIn with the provider's registration prompt.
func (o *Orchestrator) SignUp(ctx context.Context) (string, error) {
	su, ok := o.provider.(signUpper)
	if !ok {
		return "", o.failSignIn(ctx, "sign up", identity.ErrNotInteractive)
	}
	redirect, err := su.SignUpURL(ctx)
	if err != nil {
		return "", o.failSignIn(ctx, "sign up", err)
	}
	return redirect, nil
}

// CompleteSignIn finishes a provider redirect. On success the provider
// notifies the orchestrator, which runs the exchange before this returns.
func (o *Orchestrator) CompleteSignIn(ctx context.Context, state, code string) error {
	cb, ok := o.provider.(callbackHandler)
	if !ok {
		return o.failSignIn(ctx, "complete sign in", identity.ErrNotInteractive)
	}
	if err := cb.Callback(ctx, state, code); err != nil {
		return o.failSignIn(ctx, "complete sign in", err)
	}
	return nil
}

func (o *Orchestrator) failSignIn(ctx context.Context, op string, err error) error {
	o.mu.Lock()
	changed := false
	if o.session == nil && o.state != models.StateUnauthenticated {
		o.state = models.StateUnauthenticated
		changed = true
	}
	o.mu.Unlock()

	o.logger.WarnContext(ctx, "identity provider sign in failed", "operation", op, "error", err)
	o.logAudit(ctx, string(audit.EventLoginFailed), "reason", op+" failed")
	o.raise(ctx, notify.LevelError, "Sign-in failed", "The identity provider could not be reached. Please try again.")
	if changed {
		o.publish()
	}
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeProviderFailed, op+" failed")
}

// EndSessionURL returns the provider logout URL for the current login, or ""
// when the provider has none. Read it before Logout, which forgets the login.
func (o *Orchestrator) EndSessionURL() string {
	if es, ok := o.provider.(endSessioner); ok {
		return es.EndSessionURL()
	}
	return ""
}

// Logout ends the local session and returns the landing route. The local
// session is cleared first; provider and user-service failures are logged
// and never keep the browser signed in.
func (o *Orchestrator) Logout(ctx context.Context) string {
	o.storeMu.Lock()
	o.mu.Lock()
	o.generation++
	var token, userID string
	if o.session != nil {
		token = o.session.LocalToken
		userID = o.session.User.ID
	}
	o.session = nil
	o.started = true
	o.state = models.StateUnauthenticated
	o.mu.Unlock()
	if err := o.store.Clear(ctx); err != nil {
		o.logger.ErrorContext(ctx, "failed to clear persisted session", "error", err)
	}
	o.storeMu.Unlock()
	o.publish()

	if err := o.provider.SignOut(ctx); err != nil {
		o.logger.WarnContext(ctx, "identity provider sign out failed", "error", err)
	}
	if token != "" {
		if err := o.users.Logout(ctx, token); err != nil {
			o.logger.WarnContext(ctx, "user service logout failed", "error", err)
		}
	}

	if o.metrics != nil {
		o.metrics.IncrementLogout()
	}
	o.logAudit(ctx, string(audit.EventLogout), "user_id", userID)
	o.raise(ctx, notify.LevelSuccess, "Signed out", "You have been signed out.")
	return o.landingRoute
}

// -----------------------------------------------------------------------------
// Consumer view
// -----------------------------------------------------------------------------

// User returns a copy of the current user, or nil.
func (o *Orchestrator) User() *models.User {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	u := o.session.User
	return &u
}

func (o *Orchestrator) State() models.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IsAuthenticated is true whenever a user is held, including the optimistic
// LocalOnly window before verification completes.
func (o *Orchestrator) IsAuthenticated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

func (o *Orchestrator) IsAdmin() bool  { return models.CapabilitiesOf(o.User()).Admin }
func (o *Orchestrator) IsEditor() bool { return models.CapabilitiesOf(o.User()).Editor }
func (o *Orchestrator) IsAuthor() bool { return models.CapabilitiesOf(o.User()).Author }

func (o *Orchestrator) Snapshot() models.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() models.Snapshot {
	var user *models.User
	if o.session != nil {
		user = &o.session.User
	}
	return models.NewSnapshot(o.state, user, o.session != nil)
}

// Subscribe registers fn to receive a snapshot after every state change.
// Listeners run on the goroutine that caused the change, outside the lock.
func (o *Orchestrator) Subscribe(fn func(models.Snapshot)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}

func (o *Orchestrator) publish() {
	o.mu.Lock()
	snap := o.snapshotLocked()
	ids := make([]int, 0, len(o.listeners))
	for id := range o.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(models.Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.listeners[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// -----------------------------------------------------------------------------
// Side channels
// -----------------------------------------------------------------------------

func (o *Orchestrator) raise(ctx context.Context, level notify.Level, title, message string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, notify.Notification{Level: level, Title: title, Message: message, At: o.now()})
}

func (o *Orchestrator) logAudit(ctx context.Context, event string, attributes ...any) {
	requestID := middleware.GetRequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	scopeID := requestcontext.ScopeID(ctx)
	if scopeID != "" {
		attributes = append(attributes, "scope_id", scopeID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	o.logger.InfoContext(ctx, event, args...)
	if o.auditPublisher == nil {
		return
	}
	if err := o.auditPublisher.Emit(ctx, audit.Event{
		UserID:    attrs.ExtractString(attributes, "user_id"),
		ScopeID:   scopeID,
		Action:    event,
		Reason:    attrs.ExtractString(attributes, "reason"),
		RequestID: requestID,
	}); err != nil {
		o.logger.WarnContext(ctx, "failed to emit audit event", "event", event, "error", err)
	}
}

func (o *Orchestrator) incrementExchange(outcome string) {
	if o.metrics != nil {
		o.metrics.IncrementExchange(outcome)
	}
}

func (o *Orchestrator) observeExchange(start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveExchange(start)
	}
}

func (o *Orchestrator) incrementVerification(outcome string) {
	if o.metrics != nil {
		o.metrics.IncrementVerification(outcome)
	}
}

func (o *Orchestrator) observeVerification(start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveVerification(start)
	}
}

func (o *Orchestrator) incrementDeduplicated() {
	if o.metrics != nil {
		o.metrics.IncrementDeduplicated()
	}
}
