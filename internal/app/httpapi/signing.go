package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/signflow/internal/httputil"
)

// Signing routes authenticate by the participant's access token alone.
func (h *handler) registerSigning(r *mux.Router) {
	r.HandleFunc("/sign/{token}", h.signingView).Methods(http.MethodGet)
	r.HandleFunc("/sign/{token}/document", h.signingDocument).Methods(http.MethodGet)
	r.HandleFunc("/sign/{token}/sign", h.sign).Methods(http.MethodPost)
	r.HandleFunc("/sign/{token}/approve", h.approve).Methods(http.MethodPost)
	r.HandleFunc("/sign/{token}/decline", h.decline).Methods(http.MethodPost)
}

func (h *handler) signingView(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Signatures.GetByToken(r.Context(), vars(r, "token"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *handler) signingDocument(w http.ResponseWriter, r *http.Request) {
	content, err := h.app.Signatures.DocumentByToken(r.Context(), vars(r, "token"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.stream(w, r, content, content.FileName == content.Document.Name)
}

func (h *handler) sign(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Values map[string]string `json:"values"`
	}
	if !decode(w, r, &payload) {
		return
	}
	view, err := h.app.Signatures.Sign(r.Context(), vars(r, "token"), payload.Values)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Signatures.Approve(r.Context(), vars(r, "token"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *handler) decline(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decode(w, r, &payload) {
		return
	}
	view, err := h.app.Signatures.Decline(r.Context(), vars(r, "token"), payload.Reason)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}
