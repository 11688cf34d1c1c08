// Package errors defines the service error taxonomy shared by services and
// the HTTP layer. A ServiceError carries a stable code, a caller-safe message
// and the HTTP status it maps to.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	CodeValidation   ErrorCode = "VALIDATION_FAILED"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	CodeState        ErrorCode = "INVALID_STATE"
	CodeGone         ErrorCode = "GONE"
	CodeInternal     ErrorCode = "INTERNAL"
)

// ServiceError is returned by services for caller-facing failures.
type ServiceError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches another ServiceError by code so callers can compare against the
// package-level sentinels.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// WithDetails returns a copy with one more detail entry.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func Validation(message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil)
}

func Validationf(format string, args ...any) *ServiceError {
	return Validation(fmt.Sprintf(format, args...))
}

func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", resource), nil).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "access denied"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// InvalidState reports an operation that is not allowed in the current
// workflow state.
func InvalidState(message string) *ServiceError {
	return newError(CodeState, http.StatusConflict, message, nil)
}

func Gone(message string) *ServiceError {
	return newError(CodeGone, http.StatusGone, message, nil)
}

func TooLarge(limit int64) *ServiceError {
	return newError(CodeTooLarge, http.StatusRequestEntityTooLarge, "payload too large", nil).
		WithDetails("limit_bytes", limit)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	if message == "" {
		message = "internal error"
	}
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a ServiceError from err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// Re-exported so callers importing this package as "errors" keep the stdlib helpers.
var (
	Is  = stderrors.Is
	As  = stderrors.As
	New = stderrors.New
)
