package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// StorageErrorMessage describes conversation store failures.
	StorageErrorMessage = "storage operation failed"
	// EngineUnavailableMessage is reported when the answering engine cannot serve a request.
	EngineUnavailableMessage = "answer engine unavailable"
)

// Code is the stable, machine-readable error identifier returned to callers.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeTokenLimitExceeded Code = "TOKEN_LIMIT_EXCEEDED"
	CodeValidationFailed   Code = "VALIDATION_FAILED"
	CodeEngineUnavailable  Code = "ENGINE_UNAVAILABLE"
	CodeSystemError        Code = "SYSTEM_ERROR"
)

// Sentinels matched with errors.Is through an AppError chain.
var (
	ErrNotFound           = errors.New("not found")
	ErrTokenLimitExceeded = errors.New("token limit exceeded")
	ErrValidation         = errors.New("validation failed")
	ErrEngineUnavailable  = errors.New("engine unavailable")
)

// AppError wraps an underlying error with an HTTP status, a code and a safe message.
type AppError struct {
	Err     error
	Status  int
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches the underlying error.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return errors.As(e.Err, target)
}

// New creates a new AppError with the provided information. The code is
// derived from the status.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Code:    codeForStatus(status),
		Message: message,
	}
}

// NotFound reports an unknown identifier.
func NotFound(format string, args ...any) *AppError {
	msg := fmt.Sprintf(format, args...)
	return &AppError{Err: ErrNotFound, Status: http.StatusNotFound, Code: CodeNotFound, Message: msg}
}

// TokenLimitExceeded reports a conversation whose estimated size is over budget.
func TokenLimitExceeded(total, max int) *AppError {
	return &AppError{
		Err:     ErrTokenLimitExceeded,
		Status:  http.StatusBadRequest,
		Code:    CodeTokenLimitExceeded,
		Message: fmt.Sprintf("token limit exceeded: %d/%d", total, max),
	}
}

// Validation reports a malformed request.
func Validation(format string, args ...any) *AppError {
	msg := fmt.Sprintf(format, args...)
	return &AppError{Err: ErrValidation, Status: http.StatusBadRequest, Code: CodeValidationFailed, Message: msg}
}

// EngineUnavailable reports a failed, throttled or timed out engine call.
func EngineUnavailable(err error) *AppError {
	cause := ErrEngineUnavailable
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	return &AppError{
		Err:     cause,
		Status:  http.StatusServiceUnavailable,
		Code:    CodeEngineUnavailable,
		Message: EngineUnavailableMessage,
	}
}

// System wraps an unexpected failure. The message never carries internal detail.
func System(err error) *AppError {
	return &AppError{Err: err, Status: http.StatusInternalServerError, Code: CodeSystemError, Message: SystemErrorMessage}
}

// From normalises any error into an AppError. Unknown errors become SystemError.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	return System(err)
}

// IsNotFound reports whether err carries the NotFound classification.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func codeForStatus(status int) Code {
	switch status {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeValidationFailed
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return CodeEngineUnavailable
	default:
		return CodeSystemError
	}
}
