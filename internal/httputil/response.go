// Package httputil provides JSON request and response helpers shared by the
// HTTP layer.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

// MaxJSONBody caps decoded request bodies.
const MaxJSONBody = 1 << 20

var errorLog = logger.NewDefault("http")

// ErrorBody is the error payload inside ErrorResponse.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorResponse is the JSON shape of every error.
type ErrorResponse struct {
	Error   ErrorBody `json:"error"`
	TraceID string    `json:"trace_id,omitempty"`
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes an error envelope carrying the request's trace id.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	resp := ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}}
	if r != nil {
		resp.TraceID = logger.GetTraceID(r.Context())
	}
	WriteJSON(w, status, resp)
}

// WriteError maps err onto an HTTP response. Errors that are not service
// errors are reported as internal without leaking their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("", err)
	}
	if se.HTTPStatus >= http.StatusInternalServerError && r != nil {
		errorLog.WithContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// BadRequest writes a 400 validation error.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, svcerrors.Validation(message))
}

// Unauthorized writes a 401.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, svcerrors.Unauthorized(message))
}

// NotFound writes a 404 for resource.
func NotFound(w http.ResponseWriter, r *http.Request, resource string) {
	WriteError(w, r, svcerrors.NotFound(resource, ""))
}

// DecodeJSON decodes a size-limited body into dst, rejecting unknown fields
// and trailing data.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return svcerrors.Validation("request body is required")
	}
	body := http.MaxBytesReader(w, r.Body, MaxJSONBody)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return svcerrors.TooLarge(MaxJSONBody)
		case errors.Is(err, io.EOF):
			return svcerrors.Validation("request body is required")
		default:
			return svcerrors.Validationf("invalid JSON: %v", err)
		}
	}
	if dec.More() {
		return svcerrors.Validation("request body must contain a single JSON value")
	}
	return nil
}

// RequireUserID returns the authenticated user id or writes a 401.
func RequireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := logger.GetUserID(r.Context())
	if userID == "" {
		Unauthorized(w, r, "")
		return "", false
	}
	return userID, true
}

// Attachment sets headers for a file download.
func Attachment(w http.ResponseWriter, name, contentType string, size int64) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if size > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(size))
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
