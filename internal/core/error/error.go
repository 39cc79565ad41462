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
	// RedisNotFoundMessage is used when a Redis key does not exist.
	RedisNotFoundMessage = "redis key not found"
	// ModelErrorMessage describes language model invocation failures.
	ModelErrorMessage = "model invocation failed"
	// SearchErrorMessage describes evidence source failures.
	SearchErrorMessage = "search operation failed"
)

var (
	// ErrModelInvocation marks a model call that failed after its retry budget.
	ErrModelInvocation = errors.New("model invocation error")
	// ErrSearchFailed marks a search adapter call that failed after its retry budget.
	ErrSearchFailed = errors.New("search failed")
	// ErrEmptySearchResult is returned by knowledge adapters that found nothing.
	ErrEmptySearchResult = errors.New("empty search result")
	// ErrMaxStepsExceeded is returned when a run exceeds the engine step ceiling.
	ErrMaxStepsExceeded = errors.New("max run steps exceeded")
	// ErrEmptyQuery is returned when a turn carries no user text.
	ErrEmptyQuery = errors.New("empty query")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
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

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 500 when err is not an AppError.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
