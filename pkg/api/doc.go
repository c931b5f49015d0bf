// Package api is the portal's HTTP surface.
//
// Every request passes through request-id, client-info, recovery and logging
// middleware. Authenticated routes then run middleware.BearerAuth, which
// checks the access token and the session registry, and gated routes run
// gate.Gate with the route's policy.
//
// # Authentication
//
//	POST /auth/sign-in                  rate limited per client IP
//	POST /auth/sign-up                  201, does not sign in
//	POST /auth/refresh                  bearer, accepts tokens expired within the refresh window
//	POST /auth/sign-out                 bearer
//	POST /auth/password-reset           always 202
//	POST /auth/password-reset/confirm
//	GET  /auth/me                       principal, capabilities and visible actions
//
// Each auth request builds its own identity.Client and lifecycle.Orchestrator,
// so auth events, session bookkeeping and cache invalidation follow the same
// transition handling as any other provider. Failures are rendered as
// {error, reason, message} where message is user-facing Portuguese text.
//
// # Gated regions
//
//	GET    /processos               process.view
//	POST   /processos               process.create
//	DELETE /processos/{id}          process.delete, re-resolved
//	POST   /relatorios/{id}/validar report.view and report.validate
//
// # Administration
//
//	GET    /admin/sessions                            session.view
//	DELETE /admin/sessions/{token}                    session.terminate, re-resolved
//	POST   /admin/sessions/cleanup                    administrators
//	GET    /admin/profiles                            profile.manage, re-resolved
//	POST   /admin/principals/{id}/profiles            profile.manage, re-resolved
//	DELETE /admin/principals/{id}/profiles/{profile}  profile.manage, re-resolved
//	POST   /admin/users/{id}/confirm                  user.manage
//	GET    /admin/auth-events                         administrators, when an event reader is configured
//
// Health and metrics routes are mounted by the binary through Router.
package api
