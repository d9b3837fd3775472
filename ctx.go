package authn

import "context"

var authCtxKey = &contextKey{"auth"}

type contextKey struct {
	name string
}

// WithAuthContext sets the AuthContext in the given context
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authCtxKey, ac)
}

// FromContext finds the AuthContext in the context.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	if ctx == nil {
		return nil, false
	}
	raw, ok := ctx.Value(authCtxKey).(*AuthContext)
	return raw, ok && raw != nil
}

// UserFromContext returns the resolved user view, if any
func UserFromContext(ctx context.Context) (SanitizedUserView, bool) {
	ac, ok := FromContext(ctx)
	if !ok || !ac.Authenticated() {
		return nil, false
	}
	return ac.User, true
}
