package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy surfaced to callers. Validation and configuration errors
// propagate unwrapped; unexpected backend failures are wrapped in
// OperationError so callers have one family to catch for storage trouble.
var (
	// ErrNotFound marks a legitimate "object does not exist" outcome.
	ErrNotFound = errors.New("record not found")

	// ErrRequiredValueMissing is raised when a non-nullable attribute is nil
	// or a non-empty string attribute is blank.
	ErrRequiredValueMissing = errors.New("required value missing")

	// ErrValueInvalid is raised when an attribute value fails validation.
	ErrValueInvalid = errors.New("value invalid")

	// ErrDataSourceInvalid is raised when no resolvable data source exists
	// for an operation. Never retried.
	ErrDataSourceInvalid = errors.New("data source invalid")

	// ErrInformationInvalid is raised by rollback/restore of an unknown ID.
	ErrInformationInvalid = errors.New("information invalid")

	// ErrDuplicateKey is surfaced by drivers on a primary-key collision.
	ErrDuplicateKey = errors.New("duplicate key")
)

// OperationError wraps an unexpected backend/driver failure with the
// operation, entity type and identity it occurred on.
type OperationError struct {
	Op         OperationKind
	EntityType string
	Identity   string
	Err        error
}

func (e *OperationError) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("%s %s %q: %v", e.Op, e.EntityType, e.Identity, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.EntityType, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err is a context cancellation or deadline.
// Cancellation takes priority over all other error handling.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isDomainError reports whether err belongs to the taxonomy that must
// propagate unwrapped.
func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRequiredValueMissing) ||
		errors.Is(err, ErrValueInvalid) ||
		errors.Is(err, ErrDataSourceInvalid) ||
		errors.Is(err, ErrInformationInvalid)
}

// WrapOperation wraps err as an OperationError unless it is nil, a
// cancellation, an existing OperationError, or a domain error that must
// reach the caller unwrapped.
func WrapOperation(op OperationKind, entityType, identity string, err error) error {
	if err == nil {
		return nil
	}
	if IsCancellation(err) || isDomainError(err) {
		return err
	}
	var oe *OperationError
	if errors.As(err, &oe) {
		return err
	}
	return &OperationError{Op: op, EntityType: entityType, Identity: identity, Err: err}
}
