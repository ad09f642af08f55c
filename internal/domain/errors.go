package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the workflow engine.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrStoreUnavailable indicates a transient failure of the record store.
// The same operation is safe to retry.
type ErrStoreUnavailable struct {
	Service string
	Err     error
}

func (e *ErrStoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable [%s]: %v", e.Service, e.Err)
}

func (e *ErrStoreUnavailable) Unwrap() error {
	return e.Err
}

// ErrValidation indicates a validation error (bad input, missing justification).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrPermissionDenied indicates the actor lacks the capability for the operation.
type ErrPermissionDenied struct {
	Action string
}

func (e *ErrPermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Action)
}

// ErrInvalidTransition indicates an edge that is not part of the state graph.
type ErrInvalidTransition struct {
	From SaleStatus
	To   SaleStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// ErrInvalidState indicates the operation is not allowed in the sale's current state.
type ErrInvalidState struct {
	State  SaleStatus
	Action string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("cannot %s a sale in state %s", e.Action, e.State)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates a resource already exists (e.g. duplicate e-mail).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	var unavailable *ErrStoreUnavailable
	return errors.As(err, &unavailable)
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var notFound *ErrNotFound
	return errors.As(err, &notFound)
}
