package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// Pairing
	ErrCodeInvalidPairingCode ErrorCode = "INVALID_PAIRING_CODE"
	ErrCodePairingExpired     ErrorCode = "PAIRING_EXPIRED"
	ErrCodeAlreadyClaimed     ErrorCode = "ALREADY_CLAIMED"
	ErrCodeAlreadyUsed        ErrorCode = "ALREADY_USED"

	// Commands
	ErrCodeCommandFailed ErrorCode = "COMMAND_FAILED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Client side
	ErrCodeTransport     ErrorCode = "TRANSPORT_ERROR"
	ErrCodeNotConfigured ErrorCode = "NOT_CONFIGURED"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func TokenExpired() *AppError {
	return New(ErrCodeTokenExpired, "Verification token has expired")
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidTransition(from, to string) *AppError {
	return New(ErrCodeInvalidTransition, fmt.Sprintf("Cannot move command from %s to %s", from, to))
}

func InvalidPairingCode() *AppError {
	return New(ErrCodeInvalidPairingCode, "Invalid pairing code")
}

func PairingExpired() *AppError {
	return New(ErrCodePairingExpired, "Pairing code has expired")
}

func AlreadyClaimed() *AppError {
	return New(ErrCodeAlreadyClaimed, "Pairing code has already been claimed")
}

func AlreadyUsed() *AppError {
	return New(ErrCodeAlreadyUsed, "Verification token has already been used")
}

func CommandFailed(command string, result any) *AppError {
	return New(ErrCodeCommandFailed, fmt.Sprintf("Command %s failed", command)).WithDetails(result)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Transport(cause error) *AppError {
	return Wrap(ErrCodeTransport, "Relay unreachable", cause)
}

func NotConfigured(what string) *AppError {
	return New(ErrCodeNotConfigured, fmt.Sprintf("Relay client not configured: missing %s", what))
}

func Timeout(what string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("Timed out waiting for %s", what))
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

func IsTransport(err error) bool {
	return err != nil && GetCode(err) == ErrCodeTransport
}

func IsNotConfigured(err error) bool {
	return err != nil && GetCode(err) == ErrCodeNotConfigured
}

func IsTimeout(err error) bool {
	return err != nil && GetCode(err) == ErrCodeTimeout
}

// IsValidation reports whether err is an expected, caller-facing outcome such as
// a bad or already-claimed pairing code, rather than a fault.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case ErrCodeValidation,
		ErrCodeInvalidInput,
		ErrCodeMissingRequired,
		ErrCodeNotFound,
		ErrCodeInvalidTransition,
		ErrCodeInvalidPairingCode,
		ErrCodePairingExpired,
		ErrCodeAlreadyClaimed,
		ErrCodeAlreadyUsed,
		ErrCodeInvalidToken,
		ErrCodeTokenExpired:
		return true
	}
	return false
}
