package errors

import (
	"fmt"
	"net/http"
)

// Error codes returned in the failure envelope.
const (
	CodeMissingCredential   = "missing_credential"
	CodeInvalidPayload      = "invalid_payload"
	CodeUpstreamNotFound    = "upstream_not_found"
	CodeUpstreamRejected    = "upstream_rejected"
	CodeUpstreamUnreachable = "upstream_unreachable"
	CodeUpstreamTooLarge    = "upstream_body_too_large"
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is an internal error code string.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Details provides additional error context (optional).
	Details map[string]interface{} `json:"details,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail sets a detail key and returns the error for chaining.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value, or nil when absent.
func (e *AppError) Detail(key string) interface{} {
	if e == nil || e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// MissingCredential is returned before any upstream call when no bearer token was found.
func MissingCredential(err error) *AppError {
	return New(http.StatusUnauthorized, CodeMissingCredential,
		"Missing Authorization header. Expected: Bearer <token>", err)
}

// InvalidPayload reports a caller error in the request body or path.
func InvalidPayload(message string) *AppError {
	return New(http.StatusBadRequest, CodeInvalidPayload, message, nil)
}

// UpstreamNotFound reports that every candidate answered with an HTML 404 page.
func UpstreamNotFound(message string) *AppError {
	return New(http.StatusNotFound, CodeUpstreamNotFound, message, nil)
}

// UpstreamRejected reports a reachable upstream that answered with a non-2xx status.
// Statuses outside the 4xx/5xx range are mapped to 502.
func UpstreamRejected(message string, upstreamStatus int) *AppError {
	status := upstreamStatus
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	return New(status, CodeUpstreamRejected, message, nil)
}

// UpstreamUnreachable reports a transport-level failure. Timeouts map to 504.
func UpstreamUnreachable(message string, timeout bool, err error) *AppError {
	status := http.StatusBadGateway
	if timeout {
		status = http.StatusGatewayTimeout
	}
	return New(status, CodeUpstreamUnreachable, message, err)
}

// UpstreamTooLarge reports a 2xx answer whose body exceeded the response size limit.
func UpstreamTooLarge(message string) *AppError {
	return New(http.StatusBadGateway, CodeUpstreamTooLarge, message, nil)
}
