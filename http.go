package authn

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/encryptcookie"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// LocalsKey is the router locals key holding the request AuthContext
const LocalsKey = "authn"

// ErrorHandler writes the response for a failed guard or handler
type ErrorHandler func(c router.Context, err error) error

// HTTPAuthenticator adapts an Authenticator to go-router.
type HTTPAuthenticator struct {
	auth         *Authenticator
	Logger       Logger
	ErrorHandler ErrorHandler
}

// NewHTTPAuthenticator returns the router adapter for auth
func NewHTTPAuthenticator(auth *Authenticator) *HTTPAuthenticator {
	h := &HTTPAuthenticator{
		auth:   auth,
		Logger: auth.Logger(),
	}
	h.ErrorHandler = h.defaultErrHandler
	return h
}

// Authenticator returns the wrapped authenticator
func (h *HTTPAuthenticator) Authenticator() *Authenticator {
	return h.auth
}

// GuardMiddleware evaluates the guard for every request. On success the
// AuthContext is stored in the router locals and the request context.
func (h *HTTPAuthenticator) GuardMiddleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			ac, err := h.auth.Evaluate(c.Context(), NewRouterRequest(c))
			if err != nil {
				return h.ErrorHandler(c, err)
			}

			c.Locals(LocalsKey, ac)
			c.SetContext(WithAuthContext(c.Context(), ac))
			return next(c)
		}
	}
}

// CookieMiddleware encrypts and decrypts cookies when signed cookies are
// enabled. It runs on the wrapped fiber app, ahead of the router.
func (h *HTTPAuthenticator) CookieMiddleware() fiber.Handler {
	return CookieMiddleware(h.auth.Definitions().Cookie)
}

// CookieMiddleware returns encryptcookie for signed cookie policies and a
// pass through handler otherwise.
func CookieMiddleware(defs CookieDefinitions) fiber.Handler {
	if !defs.Signed {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	return encryptcookie.New(encryptcookie.Config{
		Key: defs.Secret,
	})
}

// GetAuthContext returns the AuthContext set by GuardMiddleware
func GetAuthContext(c router.Context) (*AuthContext, bool) {
	ac, ok := c.Locals(LocalsKey).(*AuthContext)
	return ac, ok && ac != nil
}

func (h *HTTPAuthenticator) defaultErrHandler(c router.Context, err error) error {
	status := StatusCode(err)

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		h.Logger.Info(
			"auth request failed",
			"status", status,
			"text_code", richErr.TextCode,
			"path", c.Path(),
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	} else {
		h.Logger.Error("auth request failed", "status", status, "path", c.Path(), "error", err)
	}

	switch status {
	case http.StatusUnauthorized:
		if challenge, ok := Challenge(err); ok {
			c.SetHeader(fiber.HeaderWWWAuthenticate, challenge)
		}
		return c.JSON(status, map[string]string{"error": GenericAuthMessage})
	case http.StatusServiceUnavailable:
		return c.JSON(status, map[string]string{"error": ErrUpstreamUnavailable.Message})
	case http.StatusInternalServerError:
		return c.JSON(status, map[string]string{"error": http.StatusText(status)})
	}

	return c.JSON(status, map[string]string{"error": richErr.Message})
}

// routerRequest adapts router.Context to Request
type routerRequest struct {
	c router.Context
}

// NewRouterRequest wraps c as a Request
func NewRouterRequest(c router.Context) Request {
	return routerRequest{c: c}
}

func (r routerRequest) Method() string { return r.c.Method() }

func (r routerRequest) Path() string { return r.c.Path() }

func (r routerRequest) Header(name string) string { return r.c.GetString(name, "") }

func (r routerRequest) Cookie(name string) string { return r.c.Cookies(name) }

// routerCookieWriter adapts router.Context to CookieWriter
type routerCookieWriter struct {
	c router.Context
}

// NewRouterCookieWriter wraps c as a CookieWriter
func NewRouterCookieWriter(c router.Context) CookieWriter {
	return routerCookieWriter{c: c}
}

func (w routerCookieWriter) SetCookie(cookie *http.Cookie) {
	maxAge := cookie.MaxAge
	if maxAge < 0 {
		// fasthttp drops non positive max-age, the past Expires deletes the cookie
		maxAge = 0
	}

	w.c.Cookie(&router.Cookie{
		Name:     cookie.Name,
		Value:    cookie.Value,
		Path:     cookie.Path,
		Domain:   cookie.Domain,
		MaxAge:   maxAge,
		Expires:  cookie.Expires,
		Secure:   cookie.Secure,
		HTTPOnly: cookie.HttpOnly,
		SameSite: sameSiteName(cookie.SameSite),
	})
}

func sameSiteName(mode http.SameSite) string {
	switch mode {
	case http.SameSiteStrictMode:
		return fiber.CookieSameSiteStrictMode
	case http.SameSiteNoneMode:
		return fiber.CookieSameSiteNoneMode
	case http.SameSiteLaxMode:
		return fiber.CookieSameSiteLaxMode
	default:
		return fiber.CookieSameSiteDisabled
	}
}
