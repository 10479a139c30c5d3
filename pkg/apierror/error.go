// Package apierror defines the structured error body returned by the HTTP API.
package apierror

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Error represents a structured API error response.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`

	// RetryAfter, when positive, is sent as the Retry-After header (seconds).
	RetryAfter int `json:"-"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// WithDetails adds field-level error details.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = details
	return e
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	body := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}
	if len(e.Details) > 0 {
		body["error"].(map[string]interface{})["details"] = e.Details
	}
	data, _ := json.Marshal(body)
	return data
}

// Write sends the error as the response.
func (e *Error) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	w.WriteHeader(e.StatusCode)
	_, _ = w.Write(e.ToJSON())
}

// NewError creates an error with an arbitrary status and code.
func NewError(status int, code, message string) *Error {
	return &Error{StatusCode: status, Code: code, Message: message}
}

func newError(status int, code, message string) *Error {
	return NewError(status, code, message)
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return newError(http.StatusBadRequest, "BAD_REQUEST", message)
}

// ValidationError creates a 400 error with validation details.
func ValidationError(message string, details ...FieldError) *Error {
	e := newError(http.StatusBadRequest, "VALIDATION_ERROR", message)
	e.Details = details
	return e
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Caller identity required"
	}
	return newError(http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// Forbidden creates a 403 Forbidden error.
func Forbidden(message string) *Error {
	if message == "" {
		message = "Access denied"
	}
	return newError(http.StatusForbidden, "FORBIDDEN", message)
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return newError(http.StatusNotFound, "NOT_FOUND", message)
}

// Conflict creates a 409 Conflict error.
func Conflict(message string) *Error {
	return newError(http.StatusConflict, "CONFLICT", message)
}

// PreconditionFailed creates a 422 error for a business rule that refused the
// operation. code names the rule, e.g. "INSUFFICIENT_POINTS".
func PreconditionFailed(code, message string) *Error {
	return newError(http.StatusUnprocessableEntity, code, message)
}

// Contention creates a 409 error asking the client to retry.
func Contention(message string) *Error {
	e := newError(http.StatusConflict, "CONTENTION", message)
	e.RetryAfter = 1
	return e
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return newError(http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// CommitUnknown creates a 503 error for a write whose commit outcome could
// not be confirmed. It carries no Retry-After: the client has to check
// whether the write landed before sending it again.
func CommitUnknown(message string) *Error {
	return newError(http.StatusServiceUnavailable, "COMMIT_OUTCOME_UNKNOWN", message)
}

// ServiceUnavailable creates a 503 Service Unavailable error.
func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	e := newError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message)
	e.RetryAfter = 5
	return e
}
