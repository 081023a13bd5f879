package apperrors

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrDuplicate indicates that an attempt was made to create a resource that already exists.
var ErrDuplicate = errors.New("resource already exists")

// ErrUpstreamUnavailable indicates a transient upstream provider failure.
// Cycles hitting it are skipped and retried at the next scheduled tick.
var ErrUpstreamUnavailable = errors.New("upstream provider unavailable")

// ErrPersistence indicates a canonical store write failure. Fatal for the
// affected record only; no event is published for it.
var ErrPersistence = errors.New("persistence failure")

// ErrBusUnavailable indicates the event bus rejected a publish. The producer
// degrades to persistence-only and relies on reconciliation downstream.
var ErrBusUnavailable = errors.New("event bus unavailable")

// ErrDataInsufficient is the data-quality gate verdict when a window does not
// contain enough valid points, or too many outliers. Surfaced to the caller,
// never auto-retried.
var ErrDataInsufficient = errors.New("insufficient data")

// AppError wraps an underlying error with a status code for handler mapping.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message and cause.
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewNotFoundError creates an AppError wrapping ErrNotFound.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: 404, Message: message, Err: ErrNotFound}
}

// NewValidationError creates an AppError wrapping ErrValidation.
func NewValidationError(message string) *AppError {
	return &AppError{Code: 400, Message: message, Err: ErrValidation}
}
