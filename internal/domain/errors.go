package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for synchronous rejections - use with errors.Is()
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConstraint = errors.New("constraint violated")
)

// StorageError wraps a failure of the persistence store (connection loss,
// failed transaction, unexpected database error). Callers surface it instead
// of retrying silently; a lost save must stay visible.
type StorageError struct {
	Op  string // store operation, e.g. "add message"
	Err error  // underlying cause
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError unless it is already a
// synchronous rejection (not found / validation / constraint), which passes
// through unchanged.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrConstraint) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// TransportError is a backend invocation or mid-stream failure. It is
// surfaced to the user inline; the chat session remains usable.
type TransportError struct {
	Message string
}

func (e *TransportError) Error() string { return e.Message }
