// Package apperror defines the domain errors shared by the judge and the
// HTTP layer. Handlers map the sentinels to status codes with errors.Is.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("Validation Error")
	ErrUnsupported  = errors.New("unsupported")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal")
)

type AppError struct {
	Err     error  // sentinel the error wraps
	Message string // Human-readable error message
	Field   string // Optional: request field causing the error
	Cause   error  // Optional: underlying failure
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause so errors.Is
// matches either one.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// EmptyCode is returned when a request carries no source code.
// No workspace is created and no process is launched.
func EmptyCode() *AppError {
	return ValidationFailed("code", "No code provided")
}

func UnsupportedLanguage(lang string) *AppError {
	return &AppError{
		Err:     ErrUnsupported,
		Message: fmt.Sprintf("Unsupported language: %s", lang),
		Field:   "language",
	}
}

// Unauthorized returns an AppError for missing or invalid credentials.
// HTTP handlers map this to 401 Unauthorized.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func Internal(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrInternal,
		Message: message,
		Cause:   cause,
	}
}
