// Package lifecycle keeps the session bookkeeping of the portal in step with
// the authentication provider.
//
// The provider reports three transitions: SIGNED_IN, TOKEN_REFRESHED and
// SIGNED_OUT. An Orchestrator subscribes to them and, for each one,
// invalidates the principal's cached capabilities, swaps its State, and
// notifies OnChange observers. Audit events and session registry writes are
// handed to an async.Dispatcher and never awaited:
//
//	SIGNED_IN        record a successful login, then register the session
//	TOKEN_REFRESHED  bump the session's activity
//	SIGNED_OUT       end the session and record a logout, unless the
//	                 orchestrator's own SignOut caused it
//
// SignIn, SignUp, SignOut, RefreshSession and RequestPasswordReset report
// failures as *AuthError, whose Message is suitable for display.
package lifecycle
