package app

import "errors"

var (
	// ErrValidation marks a request rejected before any work started.
	ErrValidation = errors.New("validation error")
	// ErrFileTooLarge is a validation error for an upload over the size cap.
	ErrFileTooLarge = errors.New("file too large")
	ErrNotFound     = errors.New("not found")
	// ErrNotReady is returned when a download is requested before completion.
	ErrNotReady = errors.New("document not ready")
	// ErrShuttingDown rejects new jobs once Wait has started draining.
	ErrShuttingDown = errors.New("service is shutting down")
)

// ValidationError carries a caller-facing message and matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
