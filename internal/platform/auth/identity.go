package auth

import (
	"context"
	"strconv"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Identity captures the verified principal: a numeric user id and a single role.
type Identity struct {
	UserID  int64
	Role    domain.Role
	Email   string
	Subject string
}

// HasRole reports whether the identity holds any of roles.
func (i *Identity) HasRole(roles ...domain.Role) bool {
	if i == nil {
		return false
	}
	for _, role := range roles {
		if i.Role == role {
			return true
		}
	}
	return false
}

// Privileged reports whether the identity may act on other users' orders.
func (i *Identity) Privileged() bool {
	return i != nil && i.Role.Privileged()
}

// Scope returns a stable per-principal key, used to scope idempotency keys and rate limits.
func (i *Identity) Scope() string {
	if i == nil {
		return ""
	}
	return "user:" + strconv.FormatInt(i.UserID, 10)
}

type contextKey string

const identityContextKey contextKey = "github.com/hanko-field/commerce/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
