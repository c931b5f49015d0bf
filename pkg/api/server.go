package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/async"
	"github.com/tcangola/portal/pkg/audit"
	"github.com/tcangola/portal/pkg/contextkeys"
	"github.com/tcangola/portal/pkg/gate"
	"github.com/tcangola/portal/pkg/httputil"
	"github.com/tcangola/portal/pkg/identity"
	"github.com/tcangola/portal/pkg/lifecycle"
	"github.com/tcangola/portal/pkg/middleware"
	"github.com/tcangola/portal/pkg/observability"
	"github.com/tcangola/portal/pkg/rbac"
	"github.com/tcangola/portal/pkg/sessions"
)

// CapabilityResolver resolves and invalidates principal capabilities
type CapabilityResolver interface {
	gate.Resolver
	Invalidate(ctx context.Context, principalID string)
}

// ProfileAdmin manages profile assignments
type ProfileAdmin interface {
	ListProfiles(ctx context.Context) ([]rbac.Profile, error)
	AssignProfile(ctx context.Context, principalID, profileName string) error
	RevokeProfile(ctx context.Context, principalID, profileName string) error
}

// EventReader reads back recorded auth events
type EventReader interface {
	Recent(ctx context.Context, filter audit.Filter) ([]*audit.AuthEvent, error)
}

// Deps are the collaborators of the HTTP surface
type Deps struct {
	Identity   *identity.Service
	Sessions   *sessions.Registry
	Resolver   CapabilityResolver
	Profiles   ProfileAdmin
	Events     audit.Recorder
	Dispatcher async.Dispatcher

	// EventLog enables GET /admin/auth-events when set
	EventLog EventReader
	// SignInLimiter throttles POST /auth/sign-in per client IP when set
	SignInLimiter middleware.Limiter
	// TrustedProxies are the peers whose forwarding headers name the client
	TrustedProxies middleware.TrustedProxies

	MaxBodyBytes int64
	Logger       logrus.FieldLogger
	Metrics      *observability.Metrics
}

// Server is the portal's HTTP surface
type Server struct {
	router *mux.Router
	deps   Deps
	logger logrus.FieldLogger

	gate        *gate.Gate
	auth        *middleware.BearerAuth
	refreshAuth *middleware.BearerAuth
}

// NewServer validates deps and registers every route
func NewServer(deps Deps) (*Server, error) {
	if deps.Identity == nil {
		return nil, errors.New("identity service is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session registry is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("capability resolver is required")
	}
	if deps.Profiles == nil {
		return nil, errors.New("profile admin is required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Events == nil {
		deps.Events = audit.Nop()
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = async.Inline{Logger: deps.Logger}
	}

	s := &Server{
		router:      mux.NewRouter(),
		deps:        deps,
		logger:      deps.Logger,
		gate:        gate.New(deps.Resolver, deps.Logger, deps.Metrics),
		auth:        middleware.NewBearerAuth(deps.Identity.Verify, deps.Sessions, deps.Logger),
		refreshAuth: middleware.NewBearerAuth(deps.Identity.VerifyForRefresh, deps.Sessions, deps.Logger),
	}
	s.setupRoutes()
	return s, nil
}

// Router exposes the router so callers can mount health and metrics routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RequestIDMiddleware,
		s.clientInfoMiddleware,
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
	)
	if s.deps.MaxBodyBytes > 0 {
		s.router.Use(httputil.MaxBytesMiddleware(s.deps.MaxBodyBytes))
	}

	NewAuthHandlers(s).RegisterRoutes(s.router)
	NewRegionHandlers(s).RegisterRoutes(s.router)
	NewAdminHandlers(s).RegisterRoutes(s.router)
}

// protected chains bearer authentication and the gate for policy in front of h
func (s *Server) protected(policy gate.Policy, h http.HandlerFunc, opts ...gate.Option) http.Handler {
	return s.auth.Handler(s.gate.Protect(policy, opts...)(h))
}

// newOrchestrator builds the per-request provider client and orchestrator.
// current is nil for unauthenticated operations.
func (s *Server) newOrchestrator(ctx context.Context, current *lifecycle.Session) (*lifecycle.Orchestrator, error) {
	return lifecycle.New(ctx, lifecycle.Deps{
		Provider:    s.deps.Identity.NewClient(current),
		Events:      s.deps.Events,
		Sessions:    s.deps.Sessions,
		Permissions: s.deps.Resolver,
		Dispatcher:  s.deps.Dispatcher,
		Logger:      s.logger,
	})
}

// clientInfoMiddleware exposes user agent, client IP and request id to
// auth event recording
func (s *Server) clientInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithClientInfo(r.Context(), audit.ClientInfo{
			UserAgent: r.UserAgent(),
			IPAddress: s.deps.TrustedProxies.ClientIP(r),
			RequestID: contextkeys.RequestID(r.Context()),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
