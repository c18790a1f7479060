package natours

import (
	"context"

	"github.com/goliatone/go-router"
)

// DefaultContextKey is the router locals key the authenticated user is
// stored under
const DefaultContextKey = "user"

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// UserFromRouter returns the user attached by Protect. Router locals
// are checked first, then the request context.
func UserFromRouter(ctx router.Context, key string) (*User, bool) {
	if key == "" {
		key = DefaultContextKey
	}

	if user, ok := ctx.Locals(key).(*User); ok && user != nil {
		return user, true
	}

	return FromContext(ctx.Context())
}
