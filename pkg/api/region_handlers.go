package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/contextkeys"
	"github.com/tcangola/portal/pkg/gate"
	"github.com/tcangola/portal/pkg/httputil"
	"github.com/tcangola/portal/pkg/rbac"
)

var (
	policyProcessView    = gate.AnyOf("process.view", rbac.PermProcessView)
	policyProcessCreate  = gate.AnyOf("process.create", rbac.PermProcessCreate)
	policyProcessDelete  = gate.AnyOf("process.delete", rbac.PermProcessDelete).WithFresh()
	policyReportValidate = gate.AllOf("report.validate", rbac.PermReportView, rbac.PermReportValidate)

	policySessionView      = gate.AnyOf("session.view", rbac.PermSessionView)
	policySessionTerminate = gate.AnyOf("session.terminate", rbac.PermSessionTerminate).WithFresh()
	policySessionCleanup   = gate.AdminOnly("session.cleanup")
	policyProfileManage    = gate.AnyOf("profile.manage", rbac.PermProfileManage).WithFresh()
	policyUserManage       = gate.AnyOf("user.manage", rbac.PermUserManage)
	policyAuthEvents       = gate.AdminOnly("auth_events.view")
)

// actionPolicies names the actions clients show or hide, as reported by /auth/me
var actionPolicies = map[string]gate.Policy{
	"processos.ver":        policyProcessView,
	"processos.criar":      policyProcessCreate,
	"processos.eliminar":   policyProcessDelete,
	"relatorios.validar":   policyReportValidate,
	"sessoes.ver":          policySessionView,
	"sessoes.terminar":     policySessionTerminate,
	"sessoes.limpar":       policySessionCleanup,
	"perfis.gerir":         policyProfileManage,
	"utilizadores.gerir":   policyUserManage,
	"eventos.autenticacao": policyAuthEvents,
}

// RegionHandlers serves the gated case-management regions. Case data lives
// elsewhere; these answer with placeholders once the gate admits the caller.
type RegionHandlers struct {
	server *Server
}

// NewRegionHandlers creates a new region handlers instance
func NewRegionHandlers(server *Server) *RegionHandlers {
	return &RegionHandlers{server: server}
}

// RegisterRoutes registers the gated region routes
func (h *RegionHandlers) RegisterRoutes(router *mux.Router) {
	s := h.server
	router.Handle("/processos", s.protected(policyProcessView, h.listProcesses)).Methods("GET")
	router.Handle("/processos", s.protected(policyProcessCreate, h.createProcess)).Methods("POST")
	router.Handle("/processos/{id}", s.protected(policyProcessDelete, h.deleteProcess)).Methods("DELETE")
	router.Handle("/relatorios/{id}/validar", s.protected(policyReportValidate, h.validateReport)).Methods("POST")
}

// listProcesses handles GET /processos
func (h *RegionHandlers) listProcesses(w http.ResponseWriter, r *http.Request) {
	caps := gate.Capabilities(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"processos": []interface{}{},
		"actions": gate.Visible(map[string]gate.Policy{
			"criar":    policyProcessCreate,
			"eliminar": policyProcessDelete,
		}, caps),
	})
}

// createProcess handles POST /processos
func (h *RegionHandlers) createProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    string `json:"type"`
		Subject string `json:"subject"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Type, "type") {
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         uuid.NewString(),
		"type":       req.Type,
		"subject":    req.Subject,
		"status":     "registado",
		"created_by": contextkeys.PrincipalID(r.Context()),
		"created_at": time.Now().UTC(),
	})
}

// deleteProcess handles DELETE /processos/{id}
func (h *RegionHandlers) deleteProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	h.server.logger.WithFields(logrus.Fields{
		"process_id":   id,
		"principal_id": contextkeys.PrincipalID(r.Context()),
	}).Info("process deleted")
	httputil.WriteNoContent(w)
}

// validateReport handles POST /relatorios/{id}/validar
func (h *RegionHandlers) validateReport(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":           id,
		"status":       "validado",
		"validated_by": contextkeys.PrincipalID(r.Context()),
		"validated_at": time.Now().UTC(),
	})
}
