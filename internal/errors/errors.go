// Package errors provides a standardized application error type shared by
// the session core and its example HTTP wiring: a machine-readable code, a
// human message, optional details, and an HTTP status code.
package errors

import (
	"fmt"
	"net/http"
)

// AppError is a structured application error with HTTP context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON shape returned to clients.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes used by the session core (spec §7 error taxonomy).
const (
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeAuthentication    = "AUTHENTICATION_ERROR"
	ErrCodeAuthorization     = "AUTHORIZATION_ERROR"
	ErrCodeCSRFTokenMismatch = "CSRF_TOKEN_MISMATCH"
	ErrCodeMalformedToken    = "MALFORMED_TOKEN"
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
	ErrCodeNotImplemented    = "NOT_IMPLEMENTED"
	ErrCodeStoreError        = "STORE_ERROR"
	ErrCodeInternalServer    = "INTERNAL_SERVER_ERROR"
)

// New creates a new AppError with the default status code for its code.
func New(code string, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusForCode(code)}
}

// NewWithDetails creates a new AppError carrying extra debugging context.
func NewWithDetails(code string, message string, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusForCode(code)}
}

// Wrap turns an arbitrary error into an AppError, preserving its message as
// Details.
func Wrap(code string, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewWithDetails(code, message, details)
}

func statusForCode(code string) int {
	switch code {
	case ErrCodeBadRequest, ErrCodeMalformedToken:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeAuthorization, ErrCodeCSRFTokenMismatch:
		return http.StatusForbidden
	case ErrCodeNotImplemented:
		return http.StatusNotImplemented
	case ErrCodeInvalidConfig, ErrCodeStoreError, ErrCodeInternalServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToResponse converts an AppError into its client-facing JSON shape.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Code, Message: e.Message, Code: e.Code, Details: e.Details}
}

// Common constructors for the error kinds spec.md §7 names.

func BadRequest(message string) *AppError { return New(ErrCodeBadRequest, message) }

func Authentication(message string) *AppError { return New(ErrCodeAuthentication, message) }

func Authorization(message string) *AppError { return New(ErrCodeAuthorization, message) }

func CSRFTokenMismatch(message string) *AppError { return New(ErrCodeCSRFTokenMismatch, message) }

func MalformedToken(details string) *AppError {
	return NewWithDetails(ErrCodeMalformedToken, "malformed session credential", details)
}

func InvalidConfig(message string) *AppError { return New(ErrCodeInvalidConfig, message) }

func NotImplemented(message string) *AppError { return New(ErrCodeNotImplemented, message) }

func StoreError(err error) *AppError {
	return Wrap(ErrCodeStoreError, "session store operation failed", err)
}

func InternalServer(message string) *AppError { return New(ErrCodeInternalServer, message) }
