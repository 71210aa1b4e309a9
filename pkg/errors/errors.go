package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Common error codes used across all packages
const (
	// Generic errors
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden     ErrorCode = "FORBIDDEN"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"

	// OAuth2 flow errors
	ErrCodeInvalidGrant     ErrorCode = "INVALID_GRANT"
	ErrCodeInvalidClient    ErrorCode = "INVALID_CLIENT"
	ErrCodeInvalidRedirect  ErrorCode = "INVALID_REDIRECT_URI"
	ErrCodeInvalidScope     ErrorCode = "INVALID_SCOPE"
	ErrCodePKCEMismatch     ErrorCode = "PKCE_MISMATCH"
	ErrCodeStateMismatch    ErrorCode = "STATE_MISMATCH"
	ErrCodeFlowExpired      ErrorCode = "FLOW_EXPIRED"
	ErrCodeCodeConsumed     ErrorCode = "CODE_CONSUMED"
	ErrCodeConfirmMismatch  ErrorCode = "CONFIRMATION_MISMATCH"
	ErrCodeProviderExchange ErrorCode = "PROVIDER_EXCHANGE_FAILED"

	// Token errors
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid ErrorCode = "TOKEN_INVALID"
	ErrCodeTokenRevoked ErrorCode = "TOKEN_REVOKED"
	ErrCodeUnknownKid   ErrorCode = "UNKNOWN_KID"

	// Fatal errors: these indicate an inconsistency that should page an
	// operator, not just fail the request
	ErrCodeNoSigningKey  ErrorCode = "NO_SIGNING_KEY"
	ErrCodeCodeCollision ErrorCode = "CODE_COLLISION"
	ErrCodeMissingUser   ErrorCode = "FLOW_MISSING_USER"
)

// Error represents a structured error with code, message, and optional details
type Error struct {
	Code    ErrorCode              // Unique error code
	Message string                 // Human-readable error message
	Details map[string]interface{} // Optional additional details
	Err     error                  // Wrapped underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// IsFatal reports whether this error should alert operators rather than be
// treated as a routine request failure.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case ErrCodeNoSigningKey, ErrCodeCodeCollision, ErrCodeMissingUser:
		return true
	}
	return false
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an existing error with code and formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
// Returns ErrCodeInternal if the error is not a structured Error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsFatal reports whether err carries a fatal error code.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsFatal()
	}
	return false
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	// 400 Bad Request
	case ErrCodeInvalidInput, ErrCodeInvalidGrant, ErrCodeInvalidRedirect,
		ErrCodeInvalidScope, ErrCodeFlowExpired, ErrCodeCodeConsumed,
		ErrCodeConfirmMismatch, ErrCodeProviderExchange:
		return http.StatusBadRequest

	// 401 Unauthorized
	case ErrCodeUnauthorized, ErrCodeInvalidClient, ErrCodePKCEMismatch,
		ErrCodeTokenExpired, ErrCodeTokenInvalid, ErrCodeTokenRevoked,
		ErrCodeUnknownKid:
		return http.StatusUnauthorized

	// 403 Forbidden
	case ErrCodeForbidden, ErrCodeStateMismatch:
		return http.StatusForbidden

	// 404 Not Found
	case ErrCodeNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case ErrCodeConflict, ErrCodeAlreadyExists:
		return http.StatusConflict

	// 503 Service Unavailable
	case ErrCodeTimeout:
		return http.StatusServiceUnavailable

	// 500 Internal Server Error (default, includes fatal codes)
	case ErrCodeInternal, ErrCodeNoSigningKey, ErrCodeCodeCollision,
		ErrCodeMissingUser:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors for frequently used errors

// NotFound creates a "not found" error
func NotFound(resourceType, identifier string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resourceType, identifier)
}

// AlreadyExists creates an "already exists" error
func AlreadyExists(resourceType, identifier string) *Error {
	return Newf(ErrCodeAlreadyExists, "%s already exists: %s", resourceType, identifier)
}

// InvalidInput creates an "invalid input" error
func InvalidInput(field, reason string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason))
}

// Unauthorized creates an "unauthorized" error
func Unauthorized(message string) *Error {
	return New(ErrCodeUnauthorized, message)
}

// Forbidden creates a "forbidden" error
func Forbidden(message string) *Error {
	return New(ErrCodeForbidden, message)
}

// InvalidGrant creates the uniform "invalid_grant" error returned by the
// token endpoint for unknown, expired and reused authorization codes alike.
func InvalidGrant(message string) *Error {
	return New(ErrCodeInvalidGrant, message)
}

// Internal creates an "internal error"
func Internal(message string) *Error {
	return New(ErrCodeInternal, message)
}

// InternalWrap wraps an internal error
func InternalWrap(err error, message string) *Error {
	return Wrap(err, ErrCodeInternal, message)
}
