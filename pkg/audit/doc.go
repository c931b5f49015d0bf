// Package audit records authentication events for security review.
//
// # Overview
//
// Every sign-in, sign-out, sign-up, password reset and session refresh that the
// portal observes is appended to the auth_events relation. Events are immutable:
// the application inserts them and never updates or deletes them. Retention is
// handled outside the portal.
//
// # Recording
//
// Recording never fails from the caller's point of view. A storage error is
// logged and counted, and the caller carries on; an unreachable audit store must
// not stop a user from signing in.
//
//	log := audit.NewLog(sink, logger, metrics)
//	log.Record(ctx, audit.Entry{
//		Kind:    audit.KindLogin,
//		Success: false,
//		Email:   email,
//		Details: map[string]interface{}{"error": err.Error()},
//	})
//
// User agent, client IP and request id are taken from the context when the
// HTTP layer has attached them with WithClientInfo.
//
// # Sinks
//
//   - DBSink: PostgreSQL auth_events table
//   - LoggerSink: structured log lines, for development without a database
//   - MultiSink: fan-out to several sinks
package audit
