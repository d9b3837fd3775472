package authn

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// GuardMode names the authentication rule governing a request
type GuardMode string

const (
	GuardPublic   GuardMode = "public"
	GuardInternal GuardMode = "internal"
	GuardToken    GuardMode = "token"
	GuardRefresh  GuardMode = "refresh"
)

// Guard decides whether a request may proceed and with what identity. A nil
// error means allowed.
type Guard interface {
	Mode() GuardMode
	Evaluate(ctx context.Context, req Request) (*AuthContext, error)
}

// PublicGuard allows every request without a user.
type PublicGuard struct{}

// Mode implements Guard
func (PublicGuard) Mode() GuardMode { return GuardPublic }

// Evaluate implements Guard
func (PublicGuard) Evaluate(context.Context, Request) (*AuthContext, error) {
	return &AuthContext{Mode: GuardPublic}, nil
}

// BasicGuard authenticates the calling system with HTTP Basic credentials.
type BasicGuard struct {
	username string
	password string
	realm    string
	logger   Logger
}

// NewBasicGuard returns a guard checking against the basic definitions
func NewBasicGuard(defs BasicDefinitions, logger Logger) *BasicGuard {
	return &BasicGuard{
		username: defs.Username,
		password: defs.Password,
		realm:    defs.Realm,
		logger:   normalizeLogger(logger),
	}
}

// Mode implements Guard
func (g *BasicGuard) Mode() GuardMode { return GuardInternal }

// Evaluate implements Guard. Denials carry the WWW-Authenticate challenge,
// see Challenge.
func (g *BasicGuard) Evaluate(_ context.Context, req Request) (*AuthContext, error) {
	user, pass, ok := parseBasicAuth(req.Header(AuthorizationHeader))
	if !ok {
		g.logger.Debug("basic guard denied", "reason", "missing", "path", req.Path())
		return nil, basicChallenge(g.realm)
	}

	// both comparisons always run
	userOK := secretsEqual(user, g.username)
	passOK := secretsEqual(pass, g.password)
	if !userOK || !passOK {
		g.logger.Info("basic guard denied", "reason", "mismatch", "path", req.Path())
		return nil, basicChallenge(g.realm)
	}

	return &AuthContext{Mode: GuardInternal}, nil
}

// TokenGuard validates the access token and resolves the live user.
type TokenGuard struct {
	transport *TokenTransport
	codec     TokenCodec
	users     UserResolver
	logger    Logger
}

// NewTokenGuard returns the default guard
func NewTokenGuard(transport *TokenTransport, codec TokenCodec, users UserResolver, logger Logger) *TokenGuard {
	return &TokenGuard{
		transport: transport,
		codec:     codec,
		users:     users,
		logger:    normalizeLogger(logger),
	}
}

// Mode implements Guard
func (g *TokenGuard) Mode() GuardMode { return GuardToken }

// Evaluate implements Guard
func (g *TokenGuard) Evaluate(ctx context.Context, req Request) (*AuthContext, error) {
	raw := g.transport.ExtractAccessToken(req)
	if raw == "" {
		return nil, ErrTokenMissing
	}

	claims, err := g.codec.DecodeAccessToken(raw)
	if err != nil {
		g.logger.Info("token guard denied", "reason", TokenFailureReason(err), "path", req.Path())
		return nil, err
	}

	return resolveClaims(ctx, g.users, claims, GuardToken)
}

// RefreshGuard validates the refresh token, it never looks at the access
// token channels. Expiry is checked again after decoding with the guard's
// own clock and leeway, whatever the codec does.
type RefreshGuard struct {
	transport *TokenTransport
	codec     TokenCodec
	users     UserResolver
	leeway    int64
	clock     Clock
	logger    Logger
}

// NewRefreshGuard returns the guard for the refresh endpoint
func NewRefreshGuard(transport *TokenTransport, codec TokenCodec, users UserResolver, leeway time.Duration, logger Logger) *RefreshGuard {
	return &RefreshGuard{
		transport: transport,
		codec:     codec,
		users:     users,
		leeway:    int64(leeway / time.Second),
		clock:     time.Now,
		logger:    normalizeLogger(logger),
	}
}

// WithClock overrides the time source
func (g *RefreshGuard) WithClock(clock Clock) *RefreshGuard {
	if clock != nil {
		g.clock = clock
	}
	return g
}

// Mode implements Guard
func (g *RefreshGuard) Mode() GuardMode { return GuardRefresh }

// Evaluate implements Guard
func (g *RefreshGuard) Evaluate(ctx context.Context, req Request) (*AuthContext, error) {
	raw := g.transport.ExtractRefreshToken(req)
	if raw == "" {
		return nil, ErrTokenMissing
	}

	claims, err := g.codec.DecodeRefreshToken(raw)
	if err != nil {
		g.logger.Info("refresh guard denied", "reason", TokenFailureReason(err), "path", req.Path())
		return nil, err
	}

	if isExpired(claims, g.clock(), g.leeway) {
		g.logger.Info("refresh guard denied", "reason", "expired", "path", req.Path())
		return nil, ErrTokenExpired
	}

	return resolveClaims(ctx, g.users, claims, GuardRefresh)
}

func resolveClaims(ctx context.Context, users UserResolver, claims *JWTClaims, mode GuardMode) (*AuthContext, error) {
	view, err := users.Resolve(ctx, claims.Subject())
	if err != nil {
		return nil, err
	}

	return &AuthContext{
		Mode:         mode,
		Username:     claims.Subject(),
		User:         view,
		Impersonated: claims.Impersonated,
		Claims:       claims,
	}, nil
}

// GuardResolver picks the guard for a request. Precedence, first match wins:
// public (ignored route or public annotation), internal-only, refresh, token.
type GuardResolver struct {
	routes  *RouteTable
	ignored []glob.Glob
	public  Guard
	basic   Guard
	token   Guard
	refresh Guard
}

// NewGuardResolver builds a resolver. basic may be nil when no route is
// internal-only, such routes are then denied.
func NewGuardResolver(routes *RouteTable, ignoredRoutes []string, basic, token, refresh Guard) (*GuardResolver, error) {
	ignored := make([]glob.Glob, 0, len(ignoredRoutes))
	for _, pattern := range ignoredRoutes {
		if strings.TrimSpace(pattern) == "" {
			continue
		}
		g, err := compilePattern(pattern)
		if err != nil {
			return nil, configurationError(err)
		}
		ignored = append(ignored, g)
	}

	if routes == nil {
		routes = NewRouteTable()
	}

	if basic == nil {
		basic = denyGuard{mode: GuardInternal}
	}

	return &GuardResolver{
		routes:  routes,
		ignored: ignored,
		public:  PublicGuard{},
		basic:   basic,
		token:   token,
		refresh: refresh,
	}, nil
}

// Resolve returns the guard governing req
func (r *GuardResolver) Resolve(req Request) Guard {
	path := req.Path()
	for _, g := range r.ignored {
		if g.Match(path) {
			return r.public
		}
	}

	annotations := r.routes.Lookup(req.Method(), path)
	switch {
	case annotations.Has(AnnotationPublic):
		return r.public
	case annotations.Has(AnnotationInternalOnly):
		return r.basic
	case annotations.Has(AnnotationRefresh):
		return r.refresh
	default:
		return r.token
	}
}

// Evaluate resolves and runs the guard for req
func (r *GuardResolver) Evaluate(ctx context.Context, req Request) (*AuthContext, error) {
	return r.Resolve(req).Evaluate(ctx, req)
}

type denyGuard struct {
	mode GuardMode
}

func (d denyGuard) Mode() GuardMode { return d.mode }

func (d denyGuard) Evaluate(context.Context, Request) (*AuthContext, error) {
	return nil, ErrUnauthenticated
}

// parseBasicAuth parses an "Authorization: Basic <base64(user:pass)>" value
func parseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}

	username, password, ok = strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	return username, password, true
}
