package auth

import (
	"context"
	"strings"

	"arkavo.org/accesscore/internal/chain"
)

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	principal.Roles = dedupeRoles(principal.Roles)
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// ContextWithCaller is ContextWithPrincipal for a caller without node roles.
func ContextWithCaller(ctx context.Context, caller chain.Address, roles ...string) context.Context {
	return ContextWithPrincipal(ctx, Principal{Caller: caller, Roles: roles})
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// CallerFromContext returns the authenticated caller address.
func CallerFromContext(ctx context.Context) (chain.Address, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Caller == (chain.Address{}) {
		return chain.Address{}, false
	}
	return p.Caller, true
}

// HasRole checks whether the context principal carries the node role.
func HasRole(ctx context.Context, role string) bool {
	p, ok := PrincipalFromContext(ctx)
	return ok && p.HasRole(role)
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
