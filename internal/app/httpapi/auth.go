package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/signflow/internal/httputil"
	"github.com/R3E-Network/signflow/internal/middleware"
)

func (h *handler) registerPublicAuth(r *mux.Router) {
	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/password/forgot", h.forgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/password/reset", h.resetPassword).Methods(http.MethodPost)
}

func (h *handler) registerAccount(r *mux.Router) {
	r.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	r.HandleFunc("/auth/password", h.changePassword).Methods(http.MethodPost)
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if !decode(w, r, &payload) {
		return
	}
	u, err := h.app.Auth.Register(r.Context(), payload.Email, payload.Name, payload.Password)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &payload) {
		return
	}
	result, err := h.app.Auth.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &payload) {
		return
	}
	if err := h.app.Auth.RequestPasswordReset(r.Context(), payload.Email); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	// Same answer whether or not the address exists.
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decode(w, r, &payload) {
		return
	}
	if err := h.app.Auth.ResetPassword(r.Context(), payload.Token, payload.Password); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Auth.Logout(r.Context(), middleware.GetToken(r.Context())); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	u, err := h.app.Auth.GetUser(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	orgs, err := h.app.Organizations.ListForUser(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"user": u, "organizations": orgs})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var payload struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decode(w, r, &payload) {
		return
	}
	err := h.app.Auth.ChangePassword(r.Context(), userID, middleware.GetSessionID(r.Context()), payload.CurrentPassword, payload.NewPassword)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
