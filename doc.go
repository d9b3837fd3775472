// Package authn is an authentication and session layer for HTTP applications.
//
// It verifies credentials, issues and validates signed access and refresh
// tokens, supports an impersonation login bypass, and decides per request
// which authentication rule applies.
//
// Guards:
//   - Requests are evaluated by a GuardResolver in strict precedence order:
//     public (ignored routes or routes annotated public), internal-only
//     (HTTP Basic against configured credentials), refresh (refresh endpoint
//     only) and finally the default token guard.
//   - A route annotated both public and internal-only resolves to public.
//
// Tokens:
//   - Access and refresh tokens are HMAC signed JWTs carrying a token class
//     claim. Expiry is checked explicitly at second granularity on both paths,
//     a token is expired at or after its exp claim.
//   - Tokens travel by cookie, by bearer header, or both. With both, the
//     cookie channel wins.
//
// Users:
//   - Users are resolved through a UserDirectory and compared using a
//     PasswordHasher. Every user view returned to a caller goes through the
//     FieldRedactor first. The password hash is always stripped, configured
//     fields are stripped on top of it.
//
// HTTP:
//   - HTTPAuthenticator and AuthController run on go-router, so the guard is
//     a router.MiddlewareFunc and RegisterAuthRoutes takes any router.Router.
package authn
