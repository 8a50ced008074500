package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across dynconf.
type ErrorCode string

// Configuration pipeline error codes
const (
	ErrSyntax    ErrorCode = "SYNTAX_ERROR"
	ErrSemantic  ErrorCode = "SEMANTIC_ERROR"
	ErrAdmission ErrorCode = "ADMISSION_DENIED"
	ErrResource  ErrorCode = "RESOURCE_ERROR"
	ErrBusy      ErrorCode = "RELOAD_BUSY"
)

// General error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Directive  string    `json:"directive,omitempty"`
	Line       int       `json:"line,omitempty"`
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

// Reason returns the human readable reason, with the source line when known.
func (e *Error) Reason() string {
	msg := e.Message
	if e.Line > 0 {
		msg = fmt.Sprintf("%s in line %d", msg, e.Line)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithLine records the 1-based source line the error refers to.
func (e *Error) WithLine(line int) *Error {
	e.Line = line
	return e
}

// WithDirective records the directive name the error refers to.
func (e *Error) WithDirective(name string) *Error {
	e.Directive = name
	return e
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// ReasonOf returns the reason reported to clients: Reason for a *Error,
// the plain message otherwise.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Reason()
	}
	return err.Error()
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// HTTPStatusOf maps an error to the HTTP status returned to the caller.
// An explicit HTTPStatus wins over the code default.
func HTTPStatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	e, ok := AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	switch e.Code {
	case ErrSyntax, ErrSemantic, ErrResource, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAdmission:
		return http.StatusForbidden
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrBusy, ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================
// 常用错误构造
// ============================================================

// NewSyntaxError creates a SYNTAX_ERROR at the given line.
func NewSyntaxError(line int, format string, args ...any) *Error {
	return Errorf(ErrSyntax, format, args...).WithLine(line)
}

// NewSemanticError creates a SEMANTIC_ERROR for a directive at the given line.
func NewSemanticError(directive string, line int, format string, args ...any) *Error {
	return Errorf(ErrSemantic, format, args...).WithDirective(directive).WithLine(line)
}

// NewAdmissionError creates an ADMISSION_DENIED error with the rejecting status.
func NewAdmissionError(status int, message string) *Error {
	return NewError(ErrAdmission, message).WithHTTPStatus(status)
}

// NewResourceError creates a RESOURCE_ERROR describing a failed dry run.
func NewResourceError(message string, cause error) *Error {
	return NewError(ErrResource, message).WithCause(cause)
}
