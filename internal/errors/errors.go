// Package errors provides error code definitions for the sync core.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced to callers.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrTransientRemote  ErrorCode = "TRANSIENT_REMOTE"
	ErrRemoteNotFound   ErrorCode = "REMOTE_NOT_FOUND"
	ErrQueuePersistence ErrorCode = "QUEUE_PERSISTENCE"
	ErrQueueFull        ErrorCode = "QUEUE_FULL"
	ErrSyncFailed       ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress   ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncTimeout      ErrorCode = "SYNC_TIMEOUT"

	// Conflict errors
	ErrConflictManualRequired ErrorCode = "CONFLICT_MANUAL_REQUIRED"
	ErrConflictClosed         ErrorCode = "CONFLICT_CLOSED"
	ErrConflictNotFound       ErrorCode = "CONFLICT_NOT_FOUND"

	// Entity errors
	ErrUnknownEntityType ErrorCode = "UNKNOWN_ENTITY_TYPE"

	// Realtime errors
	ErrRealtimeClosed ErrorCode = "REALTIME_CLOSED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error code of an error, or ErrInternal for
// errors that carry no code.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}

// IsTransient reports whether an error is a transient remote failure
// eligible for queue-level retry.
func IsTransient(err error) bool {
	return Is(err, ErrTransientRemote) || Is(err, ErrSyncTimeout)
}

// IsValidation reports whether an error is terminal: retrying the same
// payload cannot succeed.
func IsValidation(err error) bool {
	return Is(err, ErrValidation) || Is(err, ErrInvalid) || Is(err, ErrUnknownEntityType)
}

// IsManualInputRequired reports whether an error signals that a conflict
// is blocked pending an explicit user choice. This is a distinct outcome,
// not a failure: callers must leave the conflict pending.
func IsManualInputRequired(err error) bool {
	return Is(err, ErrConflictManualRequired)
}
