package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/organization"
	"github.com/R3E-Network/signflow/internal/httputil"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxAuditPage = 500
)

// newUpgrader accepts handshakes from the configured browser origins.
// Requests without an Origin header come from non-browser clients.
func newUpgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	allowAll := false
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll || allowed[origin] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

func (h *handler) registerAudit(r *mux.Router) {
	r.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)
	r.HandleFunc("/events", h.events).Methods(http.MethodGet)
}

// listAudit returns the organization's audit log. Admins only.
func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	if _, err := h.app.Organizations.RequireRole(r.Context(), orgID, userID, organization.RoleAdmin); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{ResourceType: q.Get("resource_type"), ResourceID: q.Get("resource_id")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxAuditPage {
			invalid(w, r, "limit must be between 1 and %d", maxAuditPage)
			return
		}
		filter.Limit = limit
	}
	events, err := h.app.Audit.List(r.Context(), orgID, filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

// events streams the organization's audit events over a websocket. Admins
// only, matching the audit log.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := caller(w, r)
	if !ok {
		return
	}
	if _, err := h.app.Organizations.RequireRole(r.Context(), orgID, userID, organization.RoleAdmin); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	// Subscribe before the handshake completes so nothing recorded after the
	// client sees the upgrade is missed.
	events, cancel := h.app.Audit.Hub().Subscribe(orgID)
	defer cancel()

	log := h.log.WithContext(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log.Info("event stream opened")

	// The reader only services control frames and notices the close.
	done := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Info("event stream closed")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Warn("event stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
