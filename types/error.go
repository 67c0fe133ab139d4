package types

import "fmt"

// ErrorCode represents a unified error code across the backend.
type ErrorCode string

// Auth error codes
const (
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrForbidden        ErrorCode = "FORBIDDEN"
	ErrTokenExpired     ErrorCode = "TOKEN_EXPIRED"
	ErrRefreshExhausted ErrorCode = "REFRESH_EXHAUSTED"
	ErrInvalidPrincipal ErrorCode = "INVALID_PRINCIPAL"
	ErrToolAccessDenied ErrorCode = "TOOL_ACCESS_DENIED"
)

// Memory / storage error codes
const (
	ErrStoreError     ErrorCode = "STORE_ERROR"
	ErrTokenizerError ErrorCode = "TOKENIZER_ERROR"
)

// Tool transport error codes
const (
	ErrTransportError  ErrorCode = "TRANSPORT_ERROR"
	ErrToolNotInScope  ErrorCode = "TOOL_NOT_IN_SCOPE"
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status associated with the error.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// HTTPStatusOf returns the HTTP status carried by err, walking the
// cause chain. Zero means no status is attached.
func HTTPStatusOf(err error) int {
	for err != nil {
		if e, ok := err.(*Error); ok && e.HTTPStatus != 0 {
			return e.HTTPStatus
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
