// Package contextkeys provides centralized context key definitions
//
// All request-scoped values shared between packages are defined here.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithPrincipalID(ctx, claims.Subject)
//	principalID := contextkeys.PrincipalID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalIDKey contains the authenticated principal id
	// Set by: middleware.BearerAuth
	// Required by: gate.Gate, api handlers
	// Type: string
	PrincipalIDKey Key = "principal_id"

	// SessionTokenKey contains the opaque session token of the request
	// Set by: middleware.BearerAuth
	// Used by: sign-out, refresh and /auth/me handlers
	// Type: string
	SessionTokenKey Key = "session_token"

	// EmailKey contains the authenticated principal's email
	// Set by: middleware.BearerAuth
	// Type: string
	EmailKey Key = "email"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestID
	// Used by: Logger, auth events
	// Type: string
	RequestIDKey Key = "request_id"
)

// WithPrincipalID adds the principal id to the context
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, PrincipalIDKey, principalID)
}

// WithSessionToken adds the session token to the context
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, SessionTokenKey, token)
}

// WithEmail adds the principal's email to the context
func WithEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, EmailKey, email)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// PrincipalID retrieves the principal id, or "" when unauthenticated
func PrincipalID(ctx context.Context) string {
	return stringValue(ctx, PrincipalIDKey)
}

// SessionToken retrieves the session token
func SessionToken(ctx context.Context) string {
	return stringValue(ctx, SessionTokenKey)
}

// Email retrieves the principal's email
func Email(ctx context.Context) string {
	return stringValue(ctx, EmailKey)
}

// RequestID retrieves request ID from context
func RequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func stringValue(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
