// Package errors defines the typed error kinds spec.md §7 requires, so
// callers can distinguish failure modes with errors.As instead of string
// matching, the same convention the teacher's pkg/validation and
// internal/domain/services packages use for error wrapping.
package errors

import "fmt"

// Kind enumerates the kernel's error categories.
type Kind string

const (
	KindCapabilityDenied     Kind = "capability_denied"
	KindValidationFailure    Kind = "validation_failure"
	KindTransactionNotActive Kind = "transaction_not_active"
	KindCheckpointNotFound   Kind = "checkpoint_not_found"
	KindObjectNotFound       Kind = "object_not_found"
	KindTimeout              Kind = "timeout"
	KindStorageFailure       Kind = "storage_failure"
	KindInternal             Kind = "internal"
)

// Error is the kernel's typed error, wrapping an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func CapabilityDenied(principal, operation, resource string) *Error {
	return New(KindCapabilityDenied, fmt.Sprintf("%s denied %s on %s", principal, operation, resource))
}

func ValidationFailure(message string) *Error {
	return New(KindValidationFailure, message)
}

func TransactionNotActive(txID string) *Error {
	return New(KindTransactionNotActive, fmt.Sprintf("transaction %s is not active", txID))
}

func CheckpointNotFound(name string) *Error {
	return New(KindCheckpointNotFound, fmt.Sprintf("checkpoint %q not found", name))
}

func ObjectNotFound(id string) *Error {
	return New(KindObjectNotFound, fmt.Sprintf("object %s not found", id))
}

func Timeout(message string) *Error {
	return New(KindTimeout, message)
}

func StorageFailure(message string, cause error) *Error {
	return Wrap(KindStorageFailure, message, cause)
}

func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}
