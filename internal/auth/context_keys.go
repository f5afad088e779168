package auth

import (
	"context"
)

/* Context key types for type-safe context values */
type contextKey string

const (
	identityKey contextKey = "resolved_identity"
)

/* SetIdentity stores the resolved caller in ctx */
func SetIdentity(ctx context.Context, id *ResolvedIdentity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

/* GetIdentityFromContext returns the resolved caller, if any */
func GetIdentityFromContext(ctx context.Context) (*ResolvedIdentity, bool) {
	id, ok := ctx.Value(identityKey).(*ResolvedIdentity)
	return id, ok && id != nil
}

/* GetUserIDFromContext gets the caller identity from context */
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := GetIdentityFromContext(ctx)
	if !ok {
		return "", false
	}
	return id.Identity, true
}
