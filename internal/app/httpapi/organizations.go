package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/httputil"
)

func (h *handler) registerOrganization(r *mux.Router) {
	r.HandleFunc("", h.getOrganization).Methods(http.MethodGet)
	r.HandleFunc("", h.updateOrganization).Methods(http.MethodPatch)
	r.HandleFunc("/members", h.listMembers).Methods(http.MethodGet)
	r.HandleFunc("/members/{user}", h.updateMember).Methods(http.MethodPatch)
	r.HandleFunc("/members/{user}", h.removeMember).Methods(http.MethodDelete)
	r.HandleFunc("/invitations", h.listInvitations).Methods(http.MethodGet)
	r.HandleFunc("/invitations", h.invite).Methods(http.MethodPost)
}

func (h *handler) listOrganizations(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	orgs, err := h.app.Organizations.ListForUser(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orgs)
}

func (h *handler) createOrganization(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &payload) {
		return
	}
	org, err := h.app.Organizations.Create(r.Context(), userID, payload.Name)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, org)
}

func (h *handler) getOrganization(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	org, err := h.app.Organizations.Get(r.Context(), orgID, userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, org)
}

func (h *handler) updateOrganization(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &payload) {
		return
	}
	org, err := h.app.Organizations.Update(r.Context(), orgID, userID, payload.Name)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, org)
}

func (h *handler) listMembers(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	members, err := h.app.Organizations.ListMembers(r.Context(), orgID, userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, members)
}

func (h *handler) updateMember(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Role organization.Role `json:"role"`
	}
	if !decode(w, r, &payload) {
		return
	}
	member, err := h.app.Organizations.UpdateMemberRole(r.Context(), orgID, userID, vars(r, "user"), payload.Role)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, member)
}

func (h *handler) removeMember(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.app.Organizations.RemoveMember(r.Context(), orgID, userID, vars(r, "user")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listInvitations(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	invitations, err := h.app.Organizations.ListInvitations(r.Context(), orgID, userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, invitations)
}

func (h *handler) invite(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Email string            `json:"email"`
		Role  organization.Role `json:"role"`
	}
	if !decode(w, r, &payload) {
		return
	}
	inv, err := h.app.Organizations.Invite(r.Context(), orgID, userID, payload.Email, payload.Role)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, inv)
}

func (h *handler) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &payload) {
		return
	}
	member, err := h.app.Organizations.AcceptInvitation(r.Context(), payload.Token, userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, member)
}
