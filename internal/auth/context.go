package auth

import "context"

type principalContextKey struct{}

// ContextWithPrincipal publishes the resolved principal for the rest of the request.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext returns the principal published by the authentication gate.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil || v.Account == nil {
		return Principal{}, false
	}
	return *v, true
}

// AccountIDFromContext is a shortcut for callers that only need the actor id.
func AccountIDFromContext(ctx context.Context) (int64, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return 0, false
	}
	return p.Account.ID, true
}
