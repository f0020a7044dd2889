// Package errors defines the error types returned by generation services.
// Upstream failures are mapped to these standard types so the HTTP layer can
// answer with a consistent status and body.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// GenerationError is a standardized failure of an underlying generation service.
// The cache layer never produces or wraps one; it passes them through unchanged.
type GenerationError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Service    string `json:"service"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("[%s] %s (service=%s, code=%d)", e.Type, e.Message, e.Service, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *GenerationError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Common error types as constants for consistency.
const (
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeTimeout            = "timeout_error"
	TypeUpstream           = "upstream_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
)

func newError(status int, typ, service, message string, retryable bool) *GenerationError {
	return &GenerationError{
		StatusCode: status,
		Message:    message,
		Type:       typ,
		Service:    service,
		Retryable:  retryable,
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(service, message string) *GenerationError {
	return newError(http.StatusUnauthorized, TypeAuthentication, service, message, false)
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(service, message string) *GenerationError {
	return newError(http.StatusTooManyRequests, TypeRateLimit, service, message, true)
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(service, message string) *GenerationError {
	return newError(http.StatusBadRequest, TypeInvalidRequest, service, message, false)
}

// NewTimeoutError creates a timeout error (504).
func NewTimeoutError(service, message string) *GenerationError {
	return newError(http.StatusGatewayTimeout, TypeTimeout, service, message, true)
}

// NewUpstreamError creates a bad gateway error (502).
func NewUpstreamError(service, message string) *GenerationError {
	return newError(http.StatusBadGateway, TypeUpstream, service, message, true)
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(service, message string) *GenerationError {
	return newError(http.StatusServiceUnavailable, TypeServiceUnavailable, service, message, true)
}

// NewInternalError creates an internal server error (500).
func NewInternalError(service, message string) *GenerationError {
	return newError(http.StatusInternalServerError, TypeInternalError, service, message, false)
}

// FromStatus maps a non-2xx upstream response status to a GenerationError.
func FromStatus(service string, status int, message string) *GenerationError {
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewAuthenticationError(service, message)
	case status == http.StatusTooManyRequests:
		return NewRateLimitError(service, message)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewTimeoutError(service, message)
	case status == http.StatusServiceUnavailable:
		return NewServiceUnavailableError(service, message)
	case status >= 400 && status < 500:
		return NewInvalidRequestError(service, message)
	default:
		return NewUpstreamError(service, message)
	}
}

// As returns the GenerationError in err's chain, if any.
func As(err error) (*GenerationError, bool) {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr, true
	}
	return nil, false
}
