// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/R3E-Network/signflow/internal/app/services/auth"
	"github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/internal/httputil"
	"github.com/R3E-Network/signflow/pkg/logger"
)

type ctxKey int

const (
	sessionIDKey ctxKey = iota
	tokenKey
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

// AuthMiddleware requires a valid session token on every request.
type AuthMiddleware struct {
	auth   Authenticator
	logger *logger.Logger
}

// NewAuthMiddleware creates the authentication middleware.
func NewAuthMiddleware(authenticator Authenticator, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth-middleware")
	}
	return &AuthMiddleware{auth: authenticator, logger: log}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		identity, err := m.auth.Authenticate(r.Context(), token)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := logger.WithUserID(r.Context(), identity.User.ID)
		ctx = context.WithValue(ctx, sessionIDKey, identity.SessionID)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header. Websocket handshakes may pass
// the token as the access_token query parameter since browsers cannot set
// headers on them.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, nil
			}
		}
		return "", errors.Unauthorized("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.Unauthorized("invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("authentication failed", err)
	}
	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	})
	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}

// GetUserID returns the authenticated user id.
func GetUserID(ctx context.Context) string {
	return logger.GetUserID(ctx)
}

// GetSessionID returns the authenticated session id.
func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// GetToken returns the bearer token the request authenticated with.
func GetToken(ctx context.Context) string {
	v, _ := ctx.Value(tokenKey).(string)
	return v
}
