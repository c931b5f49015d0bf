// Package identity is the password-based authentication provider observed by
// the session lifecycle orchestrator.
//
// Service owns the user store and issues credentials: bcrypt password
// hashes, opaque session tokens, and short-lived HS256 access tokens whose
// "sid" claim carries the session token. Client is a per-context view of a
// single session that implements lifecycle.Provider. Each state change
// (sign-in, sign-out, refresh) is delivered synchronously to the client's
// subscribers on the goroutine that caused it.
//
// Access tokens are stateless. Whether the session behind a token is still
// active is answered by the session registry, not by this package.
package identity
