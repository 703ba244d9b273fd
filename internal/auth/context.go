// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the verified API key via context

package auth

import (
	"context"
	"slices"
)

// Permission names granted to API keys.
const (
	PermRead      = "read"
	PermBroadcast = "broadcast"
	PermAdmin     = "admin"
)

// AuthContext holds the identity of the API key that authenticated a request.
type AuthContext struct {
	KeyName     string   // configured name of the API key
	Permissions []string // permissions granted to the key
}

// IsAdmin returns true if the key has the admin permission.
func (a *AuthContext) IsAdmin() bool {
	return slices.Contains(a.Permissions, PermAdmin)
}

// HasPermission reports whether the key holds perm. Admin implies every
// permission.
func (a *AuthContext) HasPermission(perm string) bool {
	return a.IsAdmin() || slices.Contains(a.Permissions, perm)
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}
