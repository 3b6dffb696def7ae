package auth

import (
	"context"

	"sellergate.io/internal/authz"
)

type actorContextKey struct{}

// ContextWithActor attaches the authenticated caller to the context.
func ContextWithActor(ctx context.Context, actor authz.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the authenticated caller from the context.
func ActorFromContext(ctx context.Context) (authz.Actor, bool) {
	if ctx == nil {
		return authz.Actor{}, false
	}
	v, ok := ctx.Value(actorContextKey{}).(authz.Actor)
	if !ok || v.ID == "" {
		return authz.Actor{}, false
	}
	return v, true
}

// HasRole reports whether the context's actor holds one of roles.
func HasRole(ctx context.Context, roles ...authz.Role) bool {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return false
	}
	for _, r := range roles {
		if actor.Role == r {
			return true
		}
	}
	return false
}
