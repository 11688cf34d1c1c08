// Package httpapi exposes the signflow services over a JSON REST API.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/R3E-Network/signflow/internal/app"
	"github.com/R3E-Network/signflow/internal/app/metrics"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/internal/httputil"
	"github.com/R3E-Network/signflow/internal/middleware"
	"github.com/R3E-Network/signflow/pkg/logger"
)

// Options tunes the handler stack.
type Options struct {
	// CORSOrigins lists allowed browser origins. "*" allows any.
	CORSOrigins []string
	// RateLimiter guards the public auth and signing routes. Nil disables it.
	RateLimiter *middleware.RateLimiter
	// TrustForwarded takes the client address from X-Forwarded-For.
	TrustForwarded bool
	Logger         *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns the full middleware-wrapped API.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log, upgrader: newUpgrader(opts.CORSOrigins)}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, r, "route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	authMW := middleware.NewAuthMiddleware(application.Auth, log.WithField("component", "auth-middleware"))

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/system/status", authMW.Handler(http.HandlerFunc(h.systemStatus))).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/webhooks/mail", h.mailWebhook).Methods(http.MethodPost)

	public := api.NewRoute().Subrouter()
	if opts.RateLimiter != nil {
		public.Use(opts.RateLimiter.Handler)
	}
	h.registerPublicAuth(public)
	h.registerSigning(public)

	authed := api.NewRoute().Subrouter()
	authed.Use(authMW.Handler)
	h.registerAccount(authed)
	authed.HandleFunc("/orgs", h.listOrganizations).Methods(http.MethodGet)
	authed.HandleFunc("/orgs", h.createOrganization).Methods(http.MethodPost)
	authed.HandleFunc("/invitations/accept", h.acceptInvitation).Methods(http.MethodPost)

	org := authed.PathPrefix("/orgs/{org}").Subrouter()
	org.Use(withOrganization)
	h.registerOrganization(org)
	h.registerFolders(org)
	h.registerTags(org)
	h.registerDocuments(org)
	h.registerPermissions(org)
	h.registerSignatureRequests(org)
	h.registerAudit(org)

	var stack http.Handler = r
	stack = metrics.InstrumentHandler(stack)
	stack = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(stack)
	stack = middleware.NewTracingMiddleware(log, opts.TrustForwarded).Handler(stack)
	return stack
}

// withOrganization puts the path's organization id into the request context
// so every log line carries it.
func withOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithOrganizationID(r.Context(), mux.Vars(r)["org"])
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Health(r.Context()); err != nil {
		h.log.WithContext(r.Context()).WithError(err).Error("health check failed")
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "dependency unavailable", nil)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Services(),
	})
}

// decode reads a JSON body, writing the error response itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httputil.DecodeJSON(w, r, dst); err != nil {
		httputil.WriteError(w, r, err)
		return false
	}
	return true
}

// caller returns the authenticated user and the path's organization.
func caller(w http.ResponseWriter, r *http.Request) (userID, orgID string, ok bool) {
	userID, ok = httputil.RequireUserID(w, r)
	if !ok {
		return "", "", false
	}
	return userID, mux.Vars(r)["org"], true
}

func vars(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func invalid(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	httputil.WriteError(w, r, svcerrors.Validationf(format, args...))
}
