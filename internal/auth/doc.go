// Package auth provides API key authentication for llm-gateway.
//
// # API Keys
//
// Keys are configured statically under api_keys. Each key has a name, a set
// of permissions, and either the key itself or a bcrypt hash of it:
//
//	[[api_keys]]
//	name = "laptop"
//	key = "nsk-abcdefghijklmnop"
//	permissions = ["read"]
//
// Plain keys are compared in constant time. Hashed keys are checked with
// bcrypt; tokens that verify are remembered in a bounded LRU keyed by the
// token's SHA-256 so repeat requests skip the bcrypt cost.
//
// # Permissions
//
//   - read: chat completions, model listing, own hit counters
//   - broadcast: push messages to connected event subscribers
//   - admin: implies every permission
//
// # HTTP Middleware
//
//	mux.Handle("/chat/completions", HTTPAuthMiddleware(verifier)(handler))
//
// Missing, malformed or unknown bearer tokens get 401 with a JSON error body.
// RequirePermissionHTTP answers 403 when the verified key lacks a permission.
// Handlers read the identity with FromContext.
package auth
