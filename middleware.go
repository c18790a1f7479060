package natours

import (
	"context"
	"errors"

	"github.com/goliatone/go-natours/middleware/jwtware"
	"github.com/goliatone/go-router"
)

// RouteGuard builds the Protect and RestrictTo middlewares
type RouteGuard struct {
	auther       *Auther
	contextKey   string
	tokenLookup  string
	authScheme   string
	ErrorHandler router.ErrorHandler
}

// NewRouteGuard returns a RouteGuard. cfg may be nil.
func NewRouteGuard(auther *Auther, cfg Config) *RouteGuard {
	g := &RouteGuard{
		auther:     auther,
		contextKey: DefaultContextKey,
		authScheme: "Bearer",
	}

	verbose := false
	if cfg != nil {
		if key := cfg.GetContextKey(); key != "" {
			g.contextKey = key
		}
		if scheme := cfg.GetAuthScheme(); scheme != "" {
			g.authScheme = scheme
		}
		g.tokenLookup = cfg.GetTokenLookup()
		verbose = cfg.GetVerboseErrors()
	}

	g.ErrorHandler = NewErrorRenderer(verbose, auther.logger).Handle

	return g
}

// ContextKey is the locals key holding the authenticated user
func (g *RouteGuard) ContextKey() string {
	return g.contextKey
}

// Protect requires a valid bearer token. The resolved user is stored in
// the router locals and in the request context.
func (g *RouteGuard) Protect() router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ContextKey:  g.contextKey,
		TokenLookup: g.tokenLookup,
		AuthScheme:  g.authScheme,
		Resolver: jwtware.TokenResolverFunc(func(ctx context.Context, raw string) (any, context.Context, error) {
			user, _, err := g.auther.Authenticate(ctx, raw)
			if err != nil {
				return nil, nil, err
			}
			return user, WithContext(ctx, user), nil
		}),
		ErrorHandler: func(ctx router.Context, err error) error {
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				err = ErrNotLoggedIn
			}
			return g.ErrorHandler(ctx, err)
		},
	})
}

// RestrictTo only lets users holding one of roles through. It must run
// after Protect.
func (g *RouteGuard) RestrictTo(roles ...UserRole) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			user, ok := UserFromRouter(ctx, g.contextKey)
			if !ok {
				return g.ErrorHandler(ctx, ErrNotLoggedIn)
			}

			if err := g.auther.Authorize(ctx.Context(), user, roles...); err != nil {
				return g.ErrorHandler(ctx, err)
			}

			return next(ctx)
		}
	}
}
