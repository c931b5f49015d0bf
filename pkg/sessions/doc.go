// Package sessions tracks the active sessions of each principal.
//
// A principal holds at most one active session. Registering a new session
// deactivates every other active session of the same principal in the same
// transaction, so the most recent login wins. Sessions are never deleted;
// sign-out, administrative termination and stale cleanup only clear the
// is_active flag.
//
// Two layers are provided:
//
//   - Store: error-returning persistence (DBStore for PostgreSQL, MemoryStore
//     for tests and database-less development).
//   - Registry: the facade used by sign-in bookkeeping. Its write operations
//     log and count failures instead of returning them.
//
// Janitor runs Registry.CleanupInactive on a cron schedule.
package sessions
