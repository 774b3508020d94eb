package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Cairn error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"      // 400
	ErrNotFound            ErrorCode = "NOT_FOUND"            // 404
	ErrFileNotFound        ErrorCode = "FILE_NOT_FOUND"       // 404
	ErrAlreadyRolledBack   ErrorCode = "ALREADY_ROLLED_BACK"  // 409
	ErrCancelled           ErrorCode = "CANCELLED"            // 499
	ErrStorageFailure      ErrorCode = "STORAGE_FAILURE"      // 500
	ErrPartialConsistency  ErrorCode = "PARTIAL_CONSISTENCY"  // 500
	ErrJournalFailure      ErrorCode = "JOURNAL_FAILURE"      // 500, moves already happened
	ErrInternal            ErrorCode = "INTERNAL"             // 500
	ErrCollaboratorFailure ErrorCode = "COLLABORATOR_FAILURE" // 502
)

// CairnError represents a structured error with code, status, and details.
// The wrapped cause is kept for logging and errors.As, never rendered to clients.
type CairnError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *CairnError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *CairnError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CairnError {
	return &CairnError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record, checkpoint or file entry.
func NewNotFound(kind, identifier string) *CairnError {
	return &CairnError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing path on disk.
func NewFileNotFound(path string) *CairnError {
	return &CairnError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewAlreadyRolledBack creates a 409 error for a second rollback of the same checkpoint.
func NewAlreadyRolledBack(id string) *CairnError {
	return &CairnError{
		Code:    ErrAlreadyRolledBack,
		Status:  409,
		Message: fmt.Sprintf("checkpoint already rolled back: %s", id),
		Details: map[string]any{"checkpoint_id": id},
	}
}

// NewCancelled creates a 499 error when the caller's context is done.
func NewCancelled(op string) *CairnError {
	return &CairnError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewStorage creates a 500 error for an I/O failure inside one of the stores.
func NewStorage(store, op string, err error) *CairnError {
	return &CairnError{
		Code:    ErrStorageFailure,
		Status:  500,
		Message: fmt.Sprintf("%s store: %s failed", store, op),
		Details: map[string]any{"store": store, "op": op},
		cause:   err,
	}
}

// NewPartialConsistency creates a 500 error when one store accepted a write
// and its paired store did not.
func NewPartialConsistency(msg string, details map[string]any, err error) *CairnError {
	return &CairnError{
		Code:    ErrPartialConsistency,
		Status:  500,
		Message: msg,
		Details: details,
		cause:   err,
	}
}

// NewJournalFailure creates the severe error raised when files were moved
// but the checkpoint describing the moves could not be written.
func NewJournalFailure(moves []map[string]string, err error) *CairnError {
	return &CairnError{
		Code:    ErrJournalFailure,
		Status:  500,
		Message: fmt.Sprintf("%d files were moved but the checkpoint could not be recorded; these moves cannot be rolled back automatically", len(moves)),
		Details: map[string]any{"moves": moves},
		cause:   err,
	}
}

// NewCollaborator creates a 502 error when classify, summarize, embed or extract fails.
func NewCollaborator(op string, err error) *CairnError {
	return &CairnError{
		Code:    ErrCollaboratorFailure,
		Status:  502,
		Message: fmt.Sprintf("%s failed", op),
		Details: map[string]any{"op": op},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *CairnError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CairnError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err (or anything it wraps) is a CairnError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *CairnError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// As returns the first CairnError in err's chain.
func As(err error) (*CairnError, bool) {
	var cErr *CairnError
	if stderrors.As(err, &cErr) {
		return cErr, true
	}
	return nil, false
}
