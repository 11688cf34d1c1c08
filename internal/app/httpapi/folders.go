package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/signflow/internal/httputil"
)

func (h *handler) registerFolders(r *mux.Router) {
	r.HandleFunc("/folders", h.listFolders).Methods(http.MethodGet)
	r.HandleFunc("/folders", h.createFolder).Methods(http.MethodPost)
	r.HandleFunc("/folders/{id}", h.getFolder).Methods(http.MethodGet)
	r.HandleFunc("/folders/{id}", h.updateFolder).Methods(http.MethodPatch)
	r.HandleFunc("/folders/{id}", h.deleteFolder).Methods(http.MethodDelete)
	r.HandleFunc("/folders/{id}/path", h.folderPath).Methods(http.MethodGet)
}

func (h *handler) listFolders(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	list, err := h.app.Folders.List(r.Context(), orgID, userID, r.URL.Query().Get("parent_id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createFolder(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		ParentID string `json:"parent_id"`
		Name     string `json:"name"`
	}
	if !decode(w, r, &payload) {
		return
	}
	f, err := h.app.Folders.Create(r.Context(), orgID, userID, payload.ParentID, payload.Name)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, f)
}

func (h *handler) getFolder(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	f, err := h.app.Folders.Get(r.Context(), orgID, userID, vars(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, f)
}

func (h *handler) folderPath(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	path, err := h.app.Folders.Path(r.Context(), orgID, userID, vars(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, path)
}

// updateFolder renames and/or moves. A present but empty parent_id moves the
// folder to the root.
func (h *handler) updateFolder(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name     *string `json:"name"`
		ParentID *string `json:"parent_id"`
	}
	if !decode(w, r, &payload) {
		return
	}
	if payload.Name == nil && payload.ParentID == nil {
		invalid(w, r, "name or parent_id is required")
		return
	}
	id := vars(r, "id")
	var err error
	if payload.Name != nil {
		if _, err = h.app.Folders.Rename(r.Context(), orgID, userID, id, *payload.Name); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	if payload.ParentID != nil {
		if _, err = h.app.Folders.Move(r.Context(), orgID, userID, id, *payload.ParentID); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	f, err := h.app.Folders.Get(r.Context(), orgID, userID, id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, f)
}

func (h *handler) deleteFolder(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	recursive := false
	if raw := r.URL.Query().Get("recursive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			invalid(w, r, "recursive must be a boolean")
			return
		}
		recursive = v
	}
	if err := h.app.Folders.Delete(r.Context(), orgID, userID, vars(r, "id"), recursive); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
