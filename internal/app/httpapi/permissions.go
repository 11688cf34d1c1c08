package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/signflow/internal/app/domain/permission"
	"github.com/R3E-Network/signflow/internal/app/services/permissions"
	"github.com/R3E-Network/signflow/internal/httputil"
)

func (h *handler) registerPermissions(r *mux.Router) {
	r.HandleFunc("/permissions/{type}/{resource}", h.listGrants).Methods(http.MethodGet)
	r.HandleFunc("/permissions/{type}/{resource}", h.grant).Methods(http.MethodPost)
	r.HandleFunc("/permissions/{type}/{resource}/{grant}", h.revoke).Methods(http.MethodDelete)
	r.HandleFunc("/permissions/{type}/{resource}/effective", h.effective).Methods(http.MethodGet)
}

func resourceType(w http.ResponseWriter, r *http.Request) (permission.ResourceType, bool) {
	rt := permission.ResourceType(vars(r, "type"))
	if !rt.Valid() {
		invalid(w, r, "resource type must be document or folder")
		return "", false
	}
	return rt, true
}

func (h *handler) listGrants(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	rt, ok := resourceType(w, r)
	if !ok {
		return
	}
	grants, err := h.app.Permissions.List(r.Context(), orgID, userID, rt, vars(r, "resource"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grants)
}

func (h *handler) grant(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	rt, ok := resourceType(w, r)
	if !ok {
		return
	}
	var payload struct {
		UserID string           `json:"user_id"`
		Level  permission.Level `json:"level"`
	}
	if !decode(w, r, &payload) {
		return
	}
	g, err := h.app.Permissions.Grant(r.Context(), orgID, userID, rt, vars(r, "resource"), payload.UserID, payload.Level)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (h *handler) revoke(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	rt, ok := resourceType(w, r)
	if !ok {
		return
	}
	if err := h.app.Permissions.Revoke(r.Context(), orgID, userID, rt, vars(r, "resource"), vars(r, "grant")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// effective reports the caller's own access level on a resource.
func (h *handler) effective(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	rt, ok := resourceType(w, r)
	if !ok {
		return
	}
	id := vars(r, "resource")
	level, err := h.app.Permissions.Effective(r.Context(), orgID, userID, rt, id)
	if err == nil {
		// No access at all looks the same as a missing resource.
		err = permissions.Require(level, permission.LevelView, string(rt), id)
	}
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"level": level})
}
