package authn

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
)

// Authenticator wires the token codec, credential validator, transport and
// guards from a single set of definitions.
type Authenticator struct {
	defs      *Definitions
	tokens    *TokenService
	validator *CredentialValidator
	transport *TokenTransport
	routes    *RouteTable
	resolver  *GuardResolver
	refresh   *RefreshGuard
	activity  ActivitySink
	observer  TokenObserver
	clock     Clock
	logger    Logger
}

// Option configures an Authenticator
type Option func(*Authenticator)

// WithLogger sets the logger shared by every component
func WithLogger(logger Logger) Option {
	return func(a *Authenticator) {
		a.logger = normalizeLogger(logger)
	}
}

// WithActivitySink sets the sink receiving login, refresh and logout events
func WithActivitySink(sink ActivitySink) Option {
	return func(a *Authenticator) {
		a.activity = normalizeActivitySink(sink)
	}
}

// WithClock overrides the time source
func WithClock(clock Clock) Option {
	return func(a *Authenticator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithTokenObserver sets the observer notified of token decode failures
func WithTokenObserver(observer TokenObserver) Option {
	return func(a *Authenticator) {
		a.observer = observer
	}
}

// WithRoutes sets the route annotations consulted by the guard resolver
func WithRoutes(routes *RouteTable) Option {
	return func(a *Authenticator) {
		if routes != nil {
			a.routes = routes
		}
	}
}

// NewAuthenticator builds an Authenticator. hasher may be nil, in which case
// one is created from the definitions. Any returned error is a configuration
// error.
func NewAuthenticator(defs *Definitions, directory UserDirectory, hasher PasswordHasher, opts ...Option) (*Authenticator, error) {
	if defs == nil {
		return nil, configurationError(errors.New("definitions are required", errors.CategoryValidation))
	}

	if directory == nil {
		return nil, configurationError(errors.New("user directory is required", errors.CategoryValidation))
	}

	if err := defs.Validate(); err != nil {
		return nil, err
	}

	a := &Authenticator{
		defs:     defs,
		routes:   NewRouteTable(),
		activity: noopActivitySink{},
		observer: noopTokenObserver{},
		clock:    time.Now,
		logger:   newDefLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.routes.HasInternalOnly() && !defs.BasicEnabled() {
		return nil, configurationError(errors.New("basic credentials are required by internal-only routes", errors.CategoryValidation))
	}

	if hasher == nil {
		h, err := NewHasher(defs)
		if err != nil {
			return nil, err
		}
		hasher = h
	}

	tokens, err := NewTokenService(defs.JWT, a.logger)
	if err != nil {
		return nil, err
	}
	a.tokens = tokens.WithClock(a.clock).WithObserver(a.observer)

	a.validator = NewCredentialValidator(
		directory,
		hasher,
		NewFieldRedactor(defs.GetRedactedFields()...),
		defs.Impersonation,
	).WithLogger(a.logger)

	a.transport = NewTokenTransport(defs.TransferMode, defs.Cookie).WithClock(a.clock)

	var basic Guard
	if defs.BasicEnabled() {
		basic = NewBasicGuard(defs.Basic, a.logger)
	}

	a.refresh = NewRefreshGuard(a.transport, a.tokens, a.validator, defs.JWT.RefreshLeeway, a.logger).
		WithClock(a.clock)

	a.resolver, err = NewGuardResolver(
		a.routes,
		defs.GetIgnoredRoutes(),
		basic,
		NewTokenGuard(a.transport, a.tokens, a.validator, a.logger),
		a.refresh,
	)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Login verifies the credentials and issues a token pair.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Session, error) {
	impersonation := a.validator.IsImpersonation(username)

	principal, err := a.validator.Login(ctx, username, password)
	if err != nil {
		a.logger.Info("login failed", "impersonation", impersonation, "reason", textCode(err))
		a.emit(ctx, failureEvent(impersonation), "", map[string]any{
			"reason": textCode(err),
		})
		return nil, err
	}

	pair, err := a.tokens.IssuePair(principal.Username, WithImpersonation(principal.Impersonated))
	if err != nil {
		a.logger.Error("login failed to issue tokens", "error", err)
		return nil, err
	}

	if principal.Impersonated {
		a.logger.Warn("impersonated login", "username", principal.Username)
		a.emit(ctx, ActivityEventImpersonationSuccess, principal.Username, nil)
	} else {
		a.emit(ctx, ActivityEventLoginSuccess, principal.Username, nil)
	}

	return newSession(*principal, pair), nil
}

// Refresh validates the refresh token carried by req and issues a new pair.
func (a *Authenticator) Refresh(ctx context.Context, req Request) (*Session, error) {
	ac, err := a.refresh.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.Reissue(ctx, ac)
}

// Reissue issues a new pair for an AuthContext produced by the refresh guard.
// The previous tokens are not revoked.
func (a *Authenticator) Reissue(ctx context.Context, ac *AuthContext) (*Session, error) {
	if ac == nil || ac.Mode != GuardRefresh || !ac.Authenticated() {
		return nil, ErrUnauthenticated
	}

	pair, err := a.tokens.IssuePair(ac.Username, WithImpersonation(ac.Impersonated))
	if err != nil {
		a.logger.Error("refresh failed to issue tokens", "error", err)
		return nil, err
	}

	metadata := map[string]any{}
	if ac.Claims != nil {
		metadata["previous_token_id"] = ac.Claims.TokenID()
	}
	a.emit(ctx, ActivityEventTokenRefreshed, ac.Username, metadata)

	return newSession(Principal{
		Username:     ac.Username,
		User:         ac.User,
		Impersonated: ac.Impersonated,
	}, pair), nil
}

// Logout clears the token channels for the configured mode.
func (a *Authenticator) Logout(ctx context.Context, ac *AuthContext, w CookieWriter) {
	a.transport.Clear(w)

	username := ""
	if ac != nil {
		username = ac.Username
	}
	a.emit(ctx, ActivityEventLogout, username, map[string]any{
		"client_discard": a.transport.ClientDiscard(),
	})
}

// Evaluate runs the guard governing req
func (a *Authenticator) Evaluate(ctx context.Context, req Request) (*AuthContext, error) {
	return a.resolver.Evaluate(ctx, req)
}

// Guard returns the guard governing req without running it
func (a *Authenticator) Guard(req Request) Guard {
	return a.resolver.Resolve(req)
}

// Deliver writes the session tokens to the active channels, see
// TokenTransport.Deliver
func (a *Authenticator) Deliver(w CookieWriter, session *Session) *TokenResponse {
	return a.transport.Deliver(w, session.Tokens)
}

// Resolve returns the live redacted view of username
func (a *Authenticator) Resolve(ctx context.Context, username string) (SanitizedUserView, error) {
	return a.validator.Resolve(ctx, username)
}

// Definitions returns the definitions the authenticator was built with.
// Callers must not mutate them.
func (a *Authenticator) Definitions() *Definitions {
	return a.defs
}

// Tokens returns the token codec
func (a *Authenticator) Tokens() *TokenService {
	return a.tokens
}

// Transport returns the token transport
func (a *Authenticator) Transport() *TokenTransport {
	return a.transport
}

// Routes returns the route annotations
func (a *Authenticator) Routes() *RouteTable {
	return a.routes
}

// Logger returns the configured logger
func (a *Authenticator) Logger() Logger {
	return a.logger
}

func (a *Authenticator) emit(ctx context.Context, eventType ActivityEventType, username string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}

	event := ActivityEvent{
		EventType:  eventType,
		Username:   username,
		Metadata:   metadata,
		OccurredAt: a.clock(),
	}

	if err := a.activity.Record(ctx, event); err != nil {
		a.logger.Warn("activity sink record error", "event", eventType, "error", err)
	}
}

func failureEvent(impersonation bool) ActivityEventType {
	if impersonation {
		return ActivityEventImpersonationFailure
	}
	return ActivityEventLoginFailure
}
