package authn

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// AuthControllerRoutes are the paths of the auth endpoints, relative to the
// router they are registered on.
type AuthControllerRoutes struct {
	Login        string
	RefreshToken string
	Profile      string
	Logout       string
}

// AuthController serves the login, refresh, profile and logout endpoints.
type AuthController struct {
	Debug  bool
	Logger Logger
	Routes *AuthControllerRoutes
	Auther *HTTPAuthenticator
	Prefix string
}

// AuthControllerOption configures an AuthController
type AuthControllerOption func(*AuthController) *AuthController

// WithControllerDebug dumps payloads and sessions to the logger
func WithControllerDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Logger = normalizeLogger(logger)
		return ac
	}
}

// WithControllerRoutes overrides the endpoint paths
func WithControllerRoutes(routes *AuthControllerRoutes) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if routes != nil {
			ac.Routes = routes
		}
		return ac
	}
}

// WithControllerPrefix sets the path prefix the controller is mounted under,
// used to annotate the public and refresh routes.
func WithControllerPrefix(prefix string) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Prefix = strings.TrimRight(prefix, "/")
		return ac
	}
}

// NewAuthController returns a controller backed by auther
func NewAuthController(auther *HTTPAuthenticator, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: auther.Logger,
		Auther: auther,
		Prefix: "/auth",
		Routes: &AuthControllerRoutes{
			Login:        "/login",
			RefreshToken: "/refresh-token",
			Profile:      "/profile",
			Logout:       "/logout",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	return c
}

// RegisterAuthRoutes mounts the auth endpoints under the controller prefix and
// annotates login as public and refresh-token as the refresh endpoint.
func RegisterAuthRoutes[T any](app router.Router[T], auther *HTTPAuthenticator, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(auther, opts...)

	auther.Authenticator().Routes().
		Public(fiber.MethodPost, controller.Prefix+controller.Routes.Login).
		Refresh(fiber.MethodPost, controller.Prefix+controller.Routes.RefreshToken)

	group := app.Group(controller.Prefix)

	group.Post(controller.Routes.Login, controller.LoginPost).
		SetName("auth.login")
	group.Post(controller.Routes.RefreshToken, controller.RefreshTokenPost).
		SetName("auth.refresh-token")
	group.Get(controller.Routes.Profile, controller.ProfileGet).
		SetName("auth.profile")
	group.Post(controller.Routes.Logout, controller.LogoutPost).
		SetName("auth.logout")

	return controller
}

// LoginRequest payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 1024)),
	)
}

// SessionResponse is the body of login and refresh responses. Token fields
// are only present when the bearer channel is active.
type SessionResponse struct {
	User         SanitizedUserView `json:"user"`
	Impersonated bool              `json:"impersonated"`
	*TokenResponse
}

// LogoutResponse is the body of the logout response
type LogoutResponse struct {
	Success bool `json:"success"`
	// ClientDiscard tells bearer clients to drop their tokens
	ClientDiscard bool `json:"client_discard"`
}

// LoginPost verifies the posted credentials and delivers a token pair. A
// payload that cannot be read or fails validation is rejected like bad
// credentials.
func (a *AuthController) LoginPost(c router.Context) error {
	payload, err := a.bindLogin(c)
	if err != nil {
		a.Logger.Debug("login payload rejected", "error", err)
		return a.Auther.ErrorHandler(c, ErrInvalidCredentials)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Debug("login payload rejected", "validation", validationFields(err))
		return a.Auther.ErrorHandler(c, ErrInvalidCredentials)
	}

	if a.Debug {
		// never dump the password
		a.Logger.Debug("login request", "username", payload.Username)
	}

	session, err := a.Auther.Authenticator().Login(c.Context(), payload.Username, payload.Password)
	if err != nil {
		return a.Auther.ErrorHandler(c, err)
	}

	return a.respondSession(c, session)
}

// RefreshTokenPost issues a new pair from the refresh token
func (a *AuthController) RefreshTokenPost(c router.Context) error {
	auth := a.Auther.Authenticator()

	var (
		session *Session
		err     error
	)

	if ac, ok := GetAuthContext(c); ok && ac.Mode == GuardRefresh {
		session, err = auth.Reissue(c.Context(), ac)
	} else {
		session, err = auth.Refresh(c.Context(), NewRouterRequest(c))
	}

	if err != nil {
		return a.Auther.ErrorHandler(c, err)
	}

	return a.respondSession(c, session)
}

// ProfileGet returns the live redacted view of the current user
func (a *AuthController) ProfileGet(c router.Context) error {
	ac, ok := GetAuthContext(c)
	if !ok || !ac.Authenticated() {
		return a.Auther.ErrorHandler(c, ErrUnauthenticated)
	}

	if a.Debug {
		a.Logger.Debug("profile", "user", print.MaybePrettyJSON(ac.User))
	}

	return c.JSON(router.StatusOK, ac.User)
}

// LogoutPost clears the token channels
func (a *AuthController) LogoutPost(c router.Context) error {
	ac, ok := GetAuthContext(c)
	if !ok || !ac.Authenticated() {
		return a.Auther.ErrorHandler(c, ErrUnauthenticated)
	}

	auth := a.Auther.Authenticator()
	auth.Logout(c.Context(), ac, NewRouterCookieWriter(c))

	return c.JSON(router.StatusOK, LogoutResponse{
		Success:       true,
		ClientDiscard: auth.Transport().ClientDiscard(),
	})
}

func (a *AuthController) respondSession(c router.Context, session *Session) error {
	body := SessionResponse{
		User:          session.User,
		Impersonated:  session.Impersonated,
		TokenResponse: a.Auther.Authenticator().Deliver(NewRouterCookieWriter(c), session),
	}

	if a.Debug {
		a.Logger.Debug("session issued", "session", print.MaybePrettyJSON(body.User))
	}

	return c.JSON(router.StatusOK, body)
}

// bindLogin reads the configured username and password fields from a JSON
// or form body.
func (a *AuthController) bindLogin(c router.Context) (LoginRequest, error) {
	defs := a.Auther.Authenticator().Definitions()
	userField, passField := defs.UsernameField, defs.PasswordField

	contentType := strings.ToLower(c.GetString(fiber.HeaderContentType, ""))
	if !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
		return LoginRequest{
			Username: c.FormValue(userField),
			Password: c.FormValue(passField),
		}, nil
	}

	body := map[string]any{}
	if err := c.Bind(&body); err != nil {
		return LoginRequest{}, errors.Wrap(err, errors.CategoryBadInput, "Failed to parse request body").
			WithCode(errors.CodeBadRequest)
	}

	return LoginRequest{
		Username: stringField(body, userField),
		Password: stringField(body, passField),
	}, nil
}

func stringField(body map[string]any, name string) string {
	switch v := body[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// validationFields flattens ozzo errors into field messages for logging
func validationFields(err error) map[string]string {
	fields := map[string]string{}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	} else {
		fields["payload"] = err.Error()
	}

	return fields
}
