package authn

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// TokenCodec issues and decodes access and refresh tokens.
type TokenCodec interface {
	IssueAccessToken(username string, opts ...IssueOption) (string, error)
	IssueRefreshToken(username string, opts ...IssueOption) (string, error)
	DecodeAccessToken(token string) (*JWTClaims, error)
	DecodeRefreshToken(token string) (*JWTClaims, error)
}

// TokenPair is the result of a login or refresh
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenObserver is notified of every decode failure with its reason.
type TokenObserver interface {
	DecodeFailed(class TokenClass, reason string, err error)
}

// TokenObserverFunc adapts a function to TokenObserver.
type TokenObserverFunc func(class TokenClass, reason string, err error)

// DecodeFailed implements TokenObserver.
func (f TokenObserverFunc) DecodeFailed(class TokenClass, reason string, err error) {
	if f != nil {
		f(class, reason, err)
	}
}

type noopTokenObserver struct{}

func (noopTokenObserver) DecodeFailed(TokenClass, string, error) {}

// Clock returns the current time
type Clock func() time.Time

// TokenService implements TokenCodec with HMAC signed JWTs.
type TokenService struct {
	signingKey    []byte
	method        jwt.SigningMethod
	issuer        string
	audience      jwt.ClaimStrings
	accessTTL     time.Duration
	refreshTTL    time.Duration
	accessLeeway  int64
	refreshLeeway int64
	parser        *jwt.Parser
	clock         Clock
	observer      TokenObserver
	logger        Logger
}

var _ TokenCodec = (*TokenService)(nil)

// NewTokenService creates a TokenService from the JWT definitions.
func NewTokenService(defs JWTDefinitions, logger Logger) (*TokenService, error) {
	if defs.Secret == "" {
		return nil, configurationError(errors.New("jwt secret is required", errors.CategoryValidation))
	}

	alg := defs.SigningMethod
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}

	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, configurationError(errors.New("unsupported signing method: "+alg, errors.CategoryValidation))
	}

	var aud jwt.ClaimStrings
	if len(defs.Audience) > 0 {
		aud = make(jwt.ClaimStrings, len(defs.Audience))
		copy(aud, defs.Audience)
	}

	return &TokenService{
		signingKey:    []byte(defs.Secret),
		method:        method,
		issuer:        defs.Issuer,
		audience:      aud,
		accessTTL:     defs.AccessExpiry,
		refreshTTL:    defs.RefreshExpiry,
		accessLeeway:  int64(defs.AccessLeeway / time.Second),
		refreshLeeway: int64(defs.RefreshLeeway / time.Second),
		// claims are validated explicitly in decode
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		clock:    time.Now,
		observer: noopTokenObserver{},
		logger:   normalizeLogger(logger),
	}, nil
}

// WithClock overrides the time source
func (ts *TokenService) WithClock(clock Clock) *TokenService {
	if clock != nil {
		ts.clock = clock
	}
	return ts
}

// WithObserver sets the decode failure observer
func (ts *TokenService) WithObserver(observer TokenObserver) *TokenService {
	if observer == nil {
		observer = noopTokenObserver{}
	}
	ts.observer = observer
	return ts
}

// WithLogger sets the logger
func (ts *TokenService) WithLogger(logger Logger) *TokenService {
	ts.logger = normalizeLogger(logger)
	return ts
}

// AccessTTL returns the access token lifetime
func (ts *TokenService) AccessTTL() time.Duration {
	return ts.accessTTL
}

// RefreshTTL returns the refresh token lifetime
func (ts *TokenService) RefreshTTL() time.Duration {
	return ts.refreshTTL
}

// IssueAccessToken signs an access token for username
func (ts *TokenService) IssueAccessToken(username string, opts ...IssueOption) (string, error) {
	token, _, err := ts.issue(username, TokenClassAccess, ts.accessTTL, opts...)
	return token, err
}

// IssueRefreshToken signs a refresh token for username
func (ts *TokenService) IssueRefreshToken(username string, opts ...IssueOption) (string, error) {
	token, _, err := ts.issue(username, TokenClassRefresh, ts.refreshTTL, opts...)
	return token, err
}

// IssuePair signs a fresh access and refresh token for username
func (ts *TokenService) IssuePair(username string, opts ...IssueOption) (TokenPair, error) {
	access, accessExp, err := ts.issue(username, TokenClassAccess, ts.accessTTL, opts...)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, refreshExp, err := ts.issue(username, TokenClassRefresh, ts.refreshTTL, opts...)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// DecodeAccessToken verifies and decodes an access token
func (ts *TokenService) DecodeAccessToken(token string) (*JWTClaims, error) {
	return ts.decode(token, TokenClassAccess, ts.accessLeeway)
}

// DecodeRefreshToken verifies and decodes a refresh token
func (ts *TokenService) DecodeRefreshToken(token string) (*JWTClaims, error) {
	return ts.decode(token, TokenClassRefresh, ts.refreshLeeway)
}

func (ts *TokenService) issue(username string, class TokenClass, ttl time.Duration, opts ...IssueOption) (string, time.Time, error) {
	if strings.TrimSpace(username) == "" {
		return "", time.Time{}, errors.New("token subject must not be empty", errors.CategoryBadInput)
	}

	now := ts.clock().Truncate(jwt.TimePrecision)
	expiresAt := now.Add(ttl)

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   username,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Class: class,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(claims)
		}
	}

	// options must not change who or what the token is for
	claims.RegisteredClaims.Subject = username
	claims.Class = class
	ensureTokenID(&claims.RegisteredClaims)

	signed, err := jwt.NewWithClaims(ts.method, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, expiresAt, nil
}

func (ts *TokenService) decode(raw string, class TokenClass, leeway int64) (*JWTClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ts.fail(class, ErrTokenMissing, nil)
	}

	claims := &JWTClaims{}
	token, err := ts.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return ts.signingKey, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, ts.fail(class, ErrTokenSignature, err)
		default:
			return nil, ts.fail(class, ErrTokenMalformed, err)
		}
	}

	if !token.Valid {
		return nil, ts.fail(class, ErrTokenMalformed, nil)
	}

	if claims.Class != class {
		return nil, ts.fail(class, ErrTokenClass, nil)
	}

	if claims.Subject() == "" || claims.RegisteredClaims.ExpiresAt == nil {
		return nil, ts.fail(class, ErrTokenClaims, nil)
	}

	if ts.issuer != "" && claims.Issuer != ts.issuer {
		return nil, ts.fail(class, ErrTokenClaims, nil)
	}

	if len(ts.audience) > 0 && !audienceMatches(claims.Audience, ts.audience) {
		return nil, ts.fail(class, ErrTokenClaims, nil)
	}

	if isExpired(claims, ts.clock(), leeway) {
		return nil, ts.fail(class, ErrTokenExpired, nil)
	}

	return claims, nil
}

// isExpired compares exp against now in whole seconds: a token is expired at
// or after exp plus leeway.
func isExpired(claims *JWTClaims, now time.Time, leeway int64) bool {
	exp := claims.RegisteredClaims.ExpiresAt
	if exp == nil {
		return true
	}
	return now.Unix() >= exp.Unix()+leeway
}

func audienceMatches(got, want jwt.ClaimStrings) bool {
	for _, aud := range want {
		if slices.Contains(got, aud) {
			return true
		}
	}
	return false
}

func (ts *TokenService) fail(class TokenClass, sentinel *errors.Error, cause error) error {
	reason := TokenFailureReason(sentinel)
	if cause != nil {
		ts.logger.Debug("token decode failed", "class", class, "reason", reason, "error", cause)
	} else {
		ts.logger.Debug("token decode failed", "class", class, "reason", reason)
	}
	ts.observer.DecodeFailed(class, reason, cause)
	return sentinel
}
