package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/audit"
	"github.com/tcangola/portal/pkg/contextkeys"
	"github.com/tcangola/portal/pkg/httputil"
	"github.com/tcangola/portal/pkg/identity"
	"github.com/tcangola/portal/pkg/observability"
	"github.com/tcangola/portal/pkg/rbac"
	"github.com/tcangola/portal/pkg/sessions"
)

// maxListedEvents caps GET /admin/auth-events
const maxListedEvents = 500

// AdminHandlers handles session, profile and user administration
type AdminHandlers struct {
	server *Server
}

// NewAdminHandlers creates a new admin handlers instance
func NewAdminHandlers(server *Server) *AdminHandlers {
	return &AdminHandlers{server: server}
}

// RegisterRoutes registers administration routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	s := h.server

	// Sessions
	router.Handle("/admin/sessions", s.protected(policySessionView, h.listSessions)).Methods("GET")
	router.Handle("/admin/sessions/cleanup", s.protected(policySessionCleanup, h.cleanupSessions)).Methods("POST")
	router.Handle("/admin/sessions/{token}", s.protected(policySessionTerminate, h.terminateSession)).Methods("DELETE")

	// Profiles
	router.Handle("/admin/profiles", s.protected(policyProfileManage, h.listProfiles)).Methods("GET")
	router.Handle("/admin/principals/{id}/profiles", s.protected(policyProfileManage, h.assignProfile)).Methods("POST")
	router.Handle("/admin/principals/{id}/profiles/{profile}", s.protected(policyProfileManage, h.revokeProfile)).Methods("DELETE")

	// Users
	router.Handle("/admin/users/{id}/confirm", s.protected(policyUserManage, h.confirmUser)).Methods("POST")

	if s.deps.EventLog != nil {
		router.Handle("/admin/auth-events", s.protected(policyAuthEvents, h.listAuthEvents)).Methods("GET")
	}
}

// sessionView exposes the session token, which admins need to terminate a
// session. It is not a credential on its own.
type sessionView struct {
	SessionToken   string    `json:"session_token"`
	PrincipalID    string    `json:"principal_id"`
	UserAgent      string    `json:"user_agent"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IsActive       bool      `json:"is_active"`
}

// listSessions handles GET /admin/sessions?principal_id=
func (h *AdminHandlers) listSessions(w http.ResponseWriter, r *http.Request) {
	principalID := httputil.ParseQueryString(r, "principal_id", "")

	active, err := h.server.deps.Sessions.ListActive(r.Context(), principalID)
	if err != nil {
		h.fail(w, r, err, "failed to list sessions")
		return
	}

	views := make([]sessionView, 0, len(active))
	for _, s := range active {
		views = append(views, sessionView{
			SessionToken:   s.SessionToken,
			PrincipalID:    s.PrincipalID,
			UserAgent:      s.UserAgent,
			StartedAt:      s.StartedAt,
			LastActivityAt: s.LastActivityAt,
			IsActive:       s.IsActive,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": views,
		"count":    len(views),
	})
}

// terminateSession handles DELETE /admin/sessions/{token}
func (h *AdminHandlers) terminateSession(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	session, err := h.server.deps.Sessions.Get(r.Context(), token)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		httputil.WriteNotFound(w, "session not found")
		return
	}
	if err != nil {
		h.fail(w, r, err, "failed to load session")
		return
	}

	if err := h.server.deps.Sessions.Terminate(r.Context(), token); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			httputil.WriteNotFound(w, "session not found")
			return
		}
		h.fail(w, r, err, "failed to terminate session")
		return
	}
	h.server.deps.Resolver.Invalidate(r.Context(), session.PrincipalID)

	h.server.logger.WithFields(logrus.Fields{
		"session":       observability.TokenPrefix(token),
		"principal_id":  session.PrincipalID,
		"terminated_by": contextkeys.PrincipalID(r.Context()),
	}).Info("session terminated by administrator")
	httputil.WriteNoContent(w)
}

// cleanupSessions handles POST /admin/sessions/cleanup
func (h *AdminHandlers) cleanupSessions(w http.ResponseWriter, r *http.Request) {
	count := h.server.deps.Sessions.CleanupInactive(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"deactivated": count,
	})
}

// listProfiles handles GET /admin/profiles
func (h *AdminHandlers) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.server.deps.Profiles.ListProfiles(r.Context())
	if err != nil {
		h.fail(w, r, err, "failed to list profiles")
		return
	}
	if profiles == nil {
		profiles = []rbac.Profile{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": profiles,
	})
}

// assignProfile handles POST /admin/principals/{id}/profiles
func (h *AdminHandlers) assignProfile(w http.ResponseWriter, r *http.Request) {
	principalID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Profile string `json:"profile"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Profile, "profile") {
		return
	}

	if err := h.server.deps.Profiles.AssignProfile(r.Context(), principalID, req.Profile); err != nil {
		h.profileError(w, r, err)
		return
	}
	h.server.deps.Resolver.Invalidate(r.Context(), principalID)
	h.logAssignment(r, principalID, req.Profile, "profile assigned")
	httputil.WriteNoContent(w)
}

// revokeProfile handles DELETE /admin/principals/{id}/profiles/{profile}
func (h *AdminHandlers) revokeProfile(w http.ResponseWriter, r *http.Request) {
	principalID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	profile, ok := httputil.ParsePathStringOrError(w, r, "profile")
	if !ok {
		return
	}

	if err := h.server.deps.Profiles.RevokeProfile(r.Context(), principalID, profile); err != nil {
		h.profileError(w, r, err)
		return
	}
	h.server.deps.Resolver.Invalidate(r.Context(), principalID)
	h.logAssignment(r, principalID, profile, "profile revoked")
	httputil.WriteNoContent(w)
}

// confirmUser handles POST /admin/users/{id}/confirm
func (h *AdminHandlers) confirmUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	err := h.server.deps.Identity.ConfirmEmail(r.Context(), userID)
	if errors.Is(err, identity.ErrUserNotFound) {
		httputil.WriteNotFound(w, "user not found")
		return
	}
	if err != nil {
		h.fail(w, r, err, "failed to confirm user")
		return
	}
	httputil.WriteNoContent(w)
}

// listAuthEvents handles GET /admin/auth-events
func (h *AdminHandlers) listAuthEvents(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		PrincipalID: httputil.ParseQueryString(r, "principal_id", ""),
		Email:       httputil.ParseQueryString(r, "email", ""),
	}

	if kind := httputil.ParseQueryString(r, "kind", ""); kind != "" {
		k := audit.EventKind(kind)
		if !k.Valid() {
			httputil.WriteBadRequest(w, "unknown event kind: "+kind)
			return
		}
		filter.Kinds = []audit.EventKind{k}
	}

	if success := httputil.ParseQueryString(r, "success", ""); success != "" {
		v, err := strconv.ParseBool(success)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid boolean for query param success: "+success)
			return
		}
		filter.Success = &v
	}

	if since := httputil.ParseQueryString(r, "since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if limit < 1 || limit > maxListedEvents {
		limit = maxListedEvents
	}
	filter.Limit = limit

	events, err := h.server.deps.EventLog.Recent(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err, "failed to read auth events")
		return
	}
	if events == nil {
		events = []*audit.AuthEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (h *AdminHandlers) profileError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, rbac.ErrProfileNotFound) {
		httputil.WriteNotFound(w, err.Error())
		return
	}
	h.fail(w, r, err, "failed to update profile assignment")
}

func (h *AdminHandlers) logAssignment(r *http.Request, principalID, profile, msg string) {
	h.server.logger.WithFields(logrus.Fields{
		"principal_id": principalID,
		"profile":      profile,
		"changed_by":   contextkeys.PrincipalID(r.Context()),
	}).Info(msg)
}

func (h *AdminHandlers) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	observability.WithTraceContext(r.Context(), h.server.logger).WithError(err).Error(msg)
	httputil.WriteInternalError(w)
}
