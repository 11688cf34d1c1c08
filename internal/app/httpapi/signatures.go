package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/signflow/internal/app/domain/signature"
	"github.com/R3E-Network/signflow/internal/app/services/signatures"
	"github.com/R3E-Network/signflow/internal/httputil"
)

func (h *handler) registerSignatureRequests(r *mux.Router) {
	r.HandleFunc("/signature-requests", h.listRequests).Methods(http.MethodGet)
	r.HandleFunc("/signature-requests", h.createRequest).Methods(http.MethodPost)
	r.HandleFunc("/signature-requests/{id}", h.getRequest).Methods(http.MethodGet)
	r.HandleFunc("/signature-requests/{id}/send", h.sendRequest).Methods(http.MethodPost)
	r.HandleFunc("/signature-requests/{id}/cancel", h.cancelRequest).Methods(http.MethodPost)
	r.HandleFunc("/signature-requests/{id}/remind", h.remindRequest).Methods(http.MethodPost)
	r.HandleFunc("/signature-requests/{id}/audit", h.requestAudit).Methods(http.MethodGet)
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	filter := signature.Filter{
		Status:     signature.Status(r.URL.Query().Get("status")),
		DocumentID: r.URL.Query().Get("document_id"),
	}
	list, err := h.app.Signatures.List(r.Context(), orgID, userID, filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createRequest(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	var in signatures.CreateInput
	if !decode(w, r, &in) {
		return
	}
	detail, err := h.app.Signatures.Create(r.Context(), orgID, userID, in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, detail)
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	detail, err := h.app.Signatures.Get(r.Context(), orgID, userID, vars(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *handler) sendRequest(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	detail, err := h.app.Signatures.Send(r.Context(), orgID, userID, vars(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *handler) cancelRequest(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	detail, err := h.app.Signatures.Cancel(r.Context(), orgID, userID, vars(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *handler) remindRequest(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	n, err := h.app.Signatures.Remind(r.Context(), orgID, userID, vars(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"reminded": n})
}

func (h *handler) requestAudit(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	events, err := h.app.Signatures.AuditTrail(r.Context(), orgID, userID, vars(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}
