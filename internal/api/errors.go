package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the machine-readable taxonomy carried in the error.type
// field of JSON error bodies and synthesized error SSE events.
type ErrorType string

const (
	ErrInvalidRequest         ErrorType = "invalid-request"
	ErrUnknownProvider        ErrorType = "unknown-provider"
	ErrNoCredentials          ErrorType = "no-credentials"
	ErrTransformer            ErrorType = "transformer-error"
	ErrUpstream               ErrorType = "upstream-error"
	ErrUpstreamTimeout        ErrorType = "upstream-timeout"
	ErrUpstreamNetwork        ErrorType = "upstream-network"
	ErrTool                   ErrorType = "tool-error"
	ErrToolContinue           ErrorType = "tool-continue-error"
	ErrMCPUpstreamUnavailable ErrorType = "mcp-upstream-unavailable"
	ErrSessionNotFound        ErrorType = "session-not-found"
	ErrRateLimited            ErrorType = "rate-limited"
	ErrUnauthorized           ErrorType = "unauthorized"
	ErrInternal               ErrorType = "internal-error"
)

// Error carries the taxonomy type and HTTP status across the boundary
// between the pipeline and the HTTP surface.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Status  int       `json:"-"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus returns the status to use on the wire, defaulting per type
// when the error carries none.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Type {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrUnknownProvider, ErrSessionNotFound:
		return http.StatusNotFound
	case ErrNoCredentials, ErrMCPUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrUpstreamTimeout, ErrUpstreamNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds an Error with the type's default status.
func NewError(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error preserving the cause.
func WrapError(t ErrorType, cause error, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithStatus overrides the HTTP status, e.g. to mirror an upstream code.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// AsError extracts an *Error from an error chain, or wraps unknown
// errors as internal.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Type: ErrInternal, Message: err.Error(), cause: err}
}

// WriteError renders an error as the JSON body {"error": {type, message}}
// with the taxonomy's HTTP status.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]interface{}{"error": apiErr})
}

// IsType reports whether the error chain carries the given taxonomy type.
func IsType(err error, t ErrorType) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Type == t
}
