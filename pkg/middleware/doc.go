// Package middleware provides the HTTP middleware that sits in front of the
// portal's handlers: bearer authentication and rate limiting.
//
// # Bearer authentication
//
// BearerAuth verifies the access token and then asks the session registry
// whether the session named by its "sid" claim is still active. A session
// displaced by a newer login or terminated by an administrator is rejected
// with 401 even though its token has not expired.
//
//	auth := middleware.NewBearerAuth(identitySvc.Verify, registry, logger)
//	router.Handle("/auth/me", auth.Handler(meHandler))
//
// On success the principal id, email and session token are available
// through contextkeys, and the verified claims through ClaimsFrom.
//
// # Rate limiting
//
// RateLimit throttles requests per key, by default the client IP. Two
// limiters are provided:
//
//   - RateLimiter: in-process token buckets (golang.org/x/time/rate)
//   - DistributedRateLimiter: fixed windows counted in Redis, shared by
//     every replica. Redis errors fail open.
package middleware
