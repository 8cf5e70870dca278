package logging

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the categories the API surfaces to callers.
type Kind string

const (
	// KindInvalidInput marks precondition violations: missing or malformed
	// images, insufficient enrollment images.
	KindInvalidInput Kind = "invalid_input"
	// KindUnavailable marks an unreachable or timed-out inference or storage
	// backend.
	KindUnavailable Kind = "service_unavailable"
	// KindNotFound marks an absent profile or record.
	KindNotFound Kind = "not_found"
	// KindInternal is the fallback for everything else.
	KindInternal Kind = "internal"
)

// OperationError annotates an error with operation metadata and a kind.
type OperationError struct {
	Operation string
	RequestID string
	Kind      Kind
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps an error with structured context about where it
// occurred. The kind of an already classified error is preserved.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Kind: KindOf(err), Err: err}
}

// NewKindError wraps an error and classifies it at the same time.
func NewKindError(kind Kind, operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Kind: kind, Err: err}
}

// KindOf extracts the classification from an error chain, defaulting to
// KindInternal.
func KindOf(err error) Kind {
	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.Kind != "" {
		return opErr.Kind
	}
	return KindInternal
}
