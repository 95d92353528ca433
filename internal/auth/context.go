package auth

import "context"

type Principal struct {
	ActorID    string
	TokenID    string
	Scopes     []string
	AuthMethod string // jwt, api_key or dev
}

type principalContextKey struct{}

func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}
