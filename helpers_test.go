package authn_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-authn"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret       = "test-signing-secret"
	testPepper       = "test-pepper"
	testCipher       = "imp:"
	testImpPassword  = "imp-secret"
	testBasicUser    = "svc"
	testBasicPass    = "svc-pass"
	testUsername     = "a@b.com"
	testUserPassword = "secret"
)

func testDefinitions() *authn.Definitions {
	return &authn.Definitions{
		Basic: authn.BasicDefinitions{
			Username: testBasicUser,
			Password: testBasicPass,
			Realm:    "internal",
		},
		JWT: authn.JWTDefinitions{
			Secret:        testSecret,
			SigningMethod: "HS256",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: time.Hour,
		},
		Impersonation: authn.ImpersonationDefinitions{
			Enabled:  true,
			Cipher:   testCipher,
			Password: testImpPassword,
		},
		Cookie: authn.CookieDefinitions{
			Path:     "/",
			SameSite: "lax",
			Secure:   true,
			HTTPOnly: true,
		},
		HashingKey:     testPepper,
		Hasher:         "bcrypt",
		HashCost:       bcrypt.MinCost,
		RedactedFields: []string{"password"},
		TransferMode:   authn.TransferCookie,
		UsernameField:  "username",
		PasswordField:  "password",
	}
}

// testClock is a settable time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memDirectory is an in memory UserDirectory
type memDirectory struct {
	mu    sync.RWMutex
	users map[string]*authn.User
	err   error
}

func newMemDirectory() *memDirectory {
	return &memDirectory{users: map[string]*authn.User{}}
}

func (d *memDirectory) LookupByUsername(_ context.Context, username string) (*authn.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.err != nil {
		return nil, d.err
	}

	u, ok := d.users[username]
	if !ok {
		return nil, authn.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *memDirectory) put(u *authn.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.Username] = u
}

func (d *memDirectory) remove(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, username)
}

func (d *memDirectory) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func seedUser(t *testing.T, dir *memDirectory, hasher authn.PasswordHasher, username, password string) *authn.User {
	t.Helper()

	hash, err := hasher.Hash(password)
	require.NoError(t, err)

	u := &authn.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        username,
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         "member",
		PasswordHash: hash,
	}
	dir.put(u)
	return u
}

// MockHasher implements authn.PasswordHasher
type MockHasher struct {
	mock.Mock
}

func (m *MockHasher) Hash(plain string) (string, error) {
	args := m.Called(plain)
	return args.String(0), args.Error(1)
}

func (m *MockHasher) Compare(plain, hash string) (bool, error) {
	args := m.Called(plain, hash)
	return args.Bool(0), args.Error(1)
}

// fakeRequest implements authn.Request
type fakeRequest struct {
	method  string
	path    string
	headers map[string]string
	cookies map[string]string
}

func newRequest(method, path string) *fakeRequest {
	return &fakeRequest{
		method:  method,
		path:    path,
		headers: map[string]string{},
		cookies: map[string]string{},
	}
}

func (r *fakeRequest) withHeader(name, value string) *fakeRequest {
	r.headers[strings.ToLower(name)] = value
	return r
}

func (r *fakeRequest) withCookie(name, value string) *fakeRequest {
	r.cookies[name] = value
	return r
}

func (r *fakeRequest) Method() string { return r.method }
func (r *fakeRequest) Path() string { return r.path }
func (r *fakeRequest) Header(name string) string { return r.headers[strings.ToLower(name)] }
func (r *fakeRequest) Cookie(name string) string { return r.cookies[name] }

// cookieRecorder implements authn.CookieWriter
type cookieRecorder struct {
	cookies []*http.Cookie
}

func (r *cookieRecorder) SetCookie(c *http.Cookie) {
	r.cookies = append(r.cookies, c)
}

func (r *cookieRecorder) get(name string) *http.Cookie {
	for _, c := range r.cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// nopLogger discards everything
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// errMessage returns the client facing message of a package error
func errMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Message
	}
	return ""
}

func errTextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}
