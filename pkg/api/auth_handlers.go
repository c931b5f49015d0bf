package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tcangola/portal/pkg/audit"
	"github.com/tcangola/portal/pkg/contextkeys"
	"github.com/tcangola/portal/pkg/gate"
	"github.com/tcangola/portal/pkg/httputil"
	"github.com/tcangola/portal/pkg/identity"
	"github.com/tcangola/portal/pkg/lifecycle"
	"github.com/tcangola/portal/pkg/middleware"
	"github.com/tcangola/portal/pkg/observability"
	"github.com/tcangola/portal/pkg/rbac"
)

// AuthHandlers handles sign-in, sign-up, sign-out and session endpoints
type AuthHandlers struct {
	server *Server
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(server *Server) *AuthHandlers {
	return &AuthHandlers{server: server}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	var signIn http.Handler = http.HandlerFunc(h.signIn)
	if h.server.deps.SignInLimiter != nil {
		signIn = middleware.RateLimit(h.server.deps.SignInLimiter, h.server.deps.TrustedProxies.ByClientIP, h.server.logger)(signIn)
	}
	router.Handle("/auth/sign-in", signIn).Methods("POST")
	router.HandleFunc("/auth/sign-up", h.signUp).Methods("POST")
	router.Handle("/auth/refresh", h.server.refreshAuth.Handler(http.HandlerFunc(h.refresh))).Methods("POST")
	router.Handle("/auth/sign-out", h.server.auth.Handler(http.HandlerFunc(h.signOut))).Methods("POST")
	router.HandleFunc("/auth/password-reset", h.requestPasswordReset).Methods("POST")
	router.HandleFunc("/auth/password-reset/confirm", h.confirmPasswordReset).Methods("POST")
	router.Handle("/auth/me", h.server.auth.Handler(http.HandlerFunc(h.me))).Methods("GET")
}

type sessionResponse struct {
	AccessToken  string              `json:"access_token"`
	SessionToken string              `json:"session_token"`
	ExpiresAt    time.Time           `json:"expires_at"`
	Principal    lifecycle.Principal `json:"principal"`
}

func writeSession(w http.ResponseWriter, session *lifecycle.Session) {
	httputil.WriteJSON(w, http.StatusOK, sessionResponse{
		AccessToken:  session.AccessToken,
		SessionToken: session.SessionToken,
		ExpiresAt:    session.ExpiresAt,
		Principal:    session.Principal,
	})
}

// signIn handles POST /auth/sign-in
func (h *AuthHandlers) signIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	orch, ok := h.orchestrator(w, r, nil)
	if !ok {
		return
	}
	defer orch.Close()

	if err := orch.SignIn(r.Context(), req.Email, req.Password); err != nil {
		writeAuthError(w, err)
		return
	}

	state := orch.State()
	if state.Session == nil {
		h.server.logger.Error("sign-in succeeded without a session")
		httputil.WriteInternalError(w)
		return
	}
	writeSession(w, state.Session)
}

// signUp handles POST /auth/sign-up. The new account is not signed in.
func (h *AuthHandlers) signUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	orch, ok := h.orchestrator(w, r, nil)
	if !ok {
		return
	}
	defer orch.Close()

	principal, err := orch.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, principal)
}

// refresh handles POST /auth/refresh. Access tokens that expired within the
// refresh window are accepted.
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.bearerOrchestrator(w, r)
	if !ok {
		return
	}
	defer orch.Close()

	if err := orch.RefreshSession(r.Context()); err != nil {
		writeAuthError(w, err)
		return
	}
	writeSession(w, orch.State().Session)
}

// signOut handles POST /auth/sign-out
func (h *AuthHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.bearerOrchestrator(w, r)
	if !ok {
		return
	}
	defer orch.Close()

	if err := orch.SignOut(r.Context()); err != nil {
		writeAuthError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// requestPasswordReset handles POST /auth/password-reset. The answer never
// reveals whether the address is registered.
func (h *AuthHandlers) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	orch, ok := h.orchestrator(w, r, nil)
	if !ok {
		return
	}
	defer orch.Close()

	if err := orch.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.server.logger.WithError(err).Debug("password reset not issued")
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "Se o endereço estiver registado, receberá instruções por email.",
	})
}

// confirmPasswordReset handles POST /auth/password-reset/confirm
func (h *AuthHandlers) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Token, "token") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	err := h.server.deps.Identity.ResetPassword(r.Context(), req.Token, req.Password)
	h.server.deps.Events.Record(r.Context(), audit.Entry{
		Kind:    audit.KindPasswordReset,
		Success: err == nil,
		Details: resetDetails(err),
	})
	switch {
	case err == nil:
		httputil.WriteNoContent(w)
	case errors.Is(err, identity.ErrInvalidResetToken):
		httputil.WriteErrorResponse(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error:  "invalid or expired reset token",
			Reason: "invalid_reset_token",
		})
	default:
		writeAuthError(w, err)
	}
}

func resetDetails(err error) map[string]interface{} {
	details := map[string]interface{}{"stage": "completed"}
	if err != nil {
		details["error"] = err.Error()
		details["reason"] = string(lifecycle.Classify(err))
	}
	return details
}

type meResponse struct {
	Principal    lifecycle.Principal `json:"principal"`
	Capabilities *rbac.Capabilities  `json:"capabilities"`
	Actions      map[string]bool     `json:"actions"`
}

// me handles GET /auth/me. Unresolved capabilities are returned as such with
// every action hidden, so clients can render their loading state.
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := contextkeys.PrincipalID(ctx)

	caps, err := h.server.deps.Resolver.Resolve(ctx, principalID)
	if err != nil {
		observability.WithTraceContext(ctx, h.server.logger).WithError(err).
			WithField("principal_id", principalID).Warn("capabilities unavailable")
	}
	if caps == nil {
		caps = rbac.Unresolved(principalID)
	}

	_, claims, _ := middleware.ClaimsFrom(ctx)
	principal := lifecycle.Principal{ID: principalID, Email: contextkeys.Email(ctx)}
	if claims != nil {
		principal.DisplayName = claims.DisplayName
	}

	httputil.WriteJSON(w, http.StatusOK, meResponse{
		Principal:    principal,
		Capabilities: caps,
		Actions:      gate.Visible(actionPolicies, caps),
	})
}

func (h *AuthHandlers) orchestrator(w http.ResponseWriter, r *http.Request, current *lifecycle.Session) (*lifecycle.Orchestrator, bool) {
	orch, err := h.server.newOrchestrator(r.Context(), current)
	if err != nil {
		h.server.logger.WithError(err).Error("failed to start session orchestrator")
		httputil.WriteInternalError(w)
		return nil, false
	}
	return orch, true
}

// bearerOrchestrator starts an orchestrator holding the request's session
func (h *AuthHandlers) bearerOrchestrator(w http.ResponseWriter, r *http.Request) (*lifecycle.Orchestrator, bool) {
	accessToken, claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	return h.orchestrator(w, r, h.server.deps.Identity.SessionFromClaims(accessToken, claims))
}

// writeAuthError renders a lifecycle outcome as {error, reason, message}
func writeAuthError(w http.ResponseWriter, err error) {
	var authErr *lifecycle.AuthError
	if !errors.As(err, &authErr) {
		authErr = &lifecycle.AuthError{Reason: lifecycle.Classify(err), Err: err}
	}

	status := http.StatusInternalServerError
	switch authErr.Reason {
	case lifecycle.ReasonInvalidCredentials:
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", `Bearer realm="portal"`)
	case lifecycle.ReasonEmailNotConfirmed:
		status = http.StatusForbidden
	case lifecycle.ReasonEmailTaken:
		status = http.StatusConflict
	case lifecycle.ReasonWeakPassword:
		status = http.StatusBadRequest
	case lifecycle.ReasonUnavailable:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "5")
	default:
		switch {
		case errors.Is(err, identity.ErrInvalidEmail):
			status = http.StatusBadRequest
		case errors.Is(err, identity.ErrSessionNotFound):
			status = http.StatusUnauthorized
		}
	}

	resp := httputil.ErrorResponse{
		Error:   "authentication failed",
		Reason:  string(authErr.Reason),
		Message: authErr.Message(),
	}
	if authErr.Op != "" {
		resp.Error = authErr.Op + " failed"
	}
	httputil.WriteErrorResponse(w, status, resp)
}
