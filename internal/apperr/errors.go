// Package apperr defines the error taxonomy shared by the generation,
// stream, and idle-loop components.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors used with errors.Is across component boundaries.
var (
	// ErrNoPool indicates a clip planner pool had no candidates for a request.
	ErrNoPool = errors.New("no candidate clip pool available")

	// ErrNoAudioTrack indicates a motion clip has no embedded audio stream.
	ErrNoAudioTrack = errors.New("source has no audio track")

	// ErrPresetNotFound indicates an unknown preset id was referenced.
	ErrPresetNotFound = errors.New("preset not found")

	// ErrStreamNotRunning indicates an operation required a running stream.
	ErrStreamNotRunning = errors.New("stream is not running")

	// ErrPresetMismatch indicates a request targeted a different preset than the one running.
	ErrPresetMismatch = errors.New("preset does not match the running stream")

	// ErrReservedActionName indicates a custom action reused a reserved name.
	ErrReservedActionName = errors.New("action name is reserved")

	// ErrUnknownAction indicates a custom action id was not found in the preset.
	ErrUnknownAction = errors.New("unknown custom action")
)

// ActionProcessingError wraps a per-action failure with the 1-based request
// index it occurred at and the HTTP status code it should surface as.
type ActionProcessingError struct {
	RequestID  int
	StatusCode int
	Err        error
}

// NewActionProcessingError creates an ActionProcessingError.
func NewActionProcessingError(requestID, statusCode int, err error) *ActionProcessingError {
	return &ActionProcessingError{RequestID: requestID, StatusCode: statusCode, Err: err}
}

// Error implements the error interface.
func (e *ActionProcessingError) Error() string {
	return fmt.Sprintf("request %d: %v", e.RequestID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ActionProcessingError) Unwrap() error {
	return e.Err
}

// Validation wraps err as a 400 Bad Request ActionProcessingError.
func Validation(requestID int, err error) *ActionProcessingError {
	return NewActionProcessingError(requestID, http.StatusBadRequest, err)
}

// Conflict wraps err as a 409 Conflict ActionProcessingError.
func Conflict(requestID int, err error) *ActionProcessingError {
	return NewActionProcessingError(requestID, http.StatusConflict, err)
}

// Dependency wraps err as a 500 Internal Server Error ActionProcessingError.
func Dependency(requestID int, err error) *ActionProcessingError {
	return NewActionProcessingError(requestID, http.StatusInternalServerError, err)
}
