package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/signflow/internal/httputil"
)

func (h *handler) registerTags(r *mux.Router) {
	r.HandleFunc("/tags", h.listTags).Methods(http.MethodGet)
	r.HandleFunc("/tags", h.createTag).Methods(http.MethodPost)
	r.HandleFunc("/tags/{id}", h.updateTag).Methods(http.MethodPatch)
	r.HandleFunc("/tags/{id}", h.deleteTag).Methods(http.MethodDelete)
}

func (h *handler) listTags(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	list, err := h.app.Tags.List(r.Context(), orgID, userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createTag(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if !decode(w, r, &payload) {
		return
	}
	t, err := h.app.Tags.Create(r.Context(), orgID, userID, payload.Name, payload.Color)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (h *handler) updateTag(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name  *string `json:"name"`
		Color *string `json:"color"`
	}
	if !decode(w, r, &payload) {
		return
	}
	t, err := h.app.Tags.Update(r.Context(), orgID, userID, vars(r, "id"), payload.Name, payload.Color)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *handler) deleteTag(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.app.Tags.Delete(r.Context(), orgID, userID, vars(r, "id")); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
