package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request / transport error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrAuthentication     ErrorCode = "AUTHENTICATION"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Retrieval / grounding error codes
const (
	ErrAssistantNotFound  ErrorCode = "ASSISTANT_NOT_FOUND"
	ErrAnchorNotFound     ErrorCode = "ANCHOR_NOT_FOUND"
	ErrDimensionMismatch  ErrorCode = "DIMENSION_MISMATCH"
	ErrEmbeddingFailed    ErrorCode = "EMBEDDING_FAILED"
	ErrStageRegression    ErrorCode = "STAGE_REGRESSION"
	ErrImmutableRecord    ErrorCode = "IMMUTABLE_RECORD"
	ErrCompletionFailed   ErrorCode = "COMPLETION_FAILED"
	ErrTokenizerError     ErrorCode = "TOKENIZER_ERROR"
	ErrPromptBudgetExceed ErrorCode = "PROMPT_BUDGET_EXCEEDED"
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

// Errorf is NewError with a formatted message.
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

// AsError unwraps err until it finds a *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in err's chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
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

// WrapError wraps a plain error into *Error, keeping an existing *Error as-is.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
}

// ============================================================
// 常用错误构造
// ============================================================

// NewInvalidRequestError 参数错误（400）。
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(400)
}

// NewNotFoundError 资源不存在（404）。
func NewNotFoundError(code ErrorCode, message string) *Error {
	return NewError(code, message).WithHTTPStatus(404)
}

// NewInternalError 内部错误（500）。
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternalError, message).WithCause(cause).WithHTTPStatus(500)
}
