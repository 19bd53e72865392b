package core

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error classes. Every error returned by semlake packages is marked with at
// most one of these, so callers can branch with errors.Is.
var (
	// ErrNotFound is returned for unknown source, domain, level or member references
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when mounting a source twice
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState is returned when an operation needs a selected source or a mapped domain
	ErrInvalidState = errors.New("invalid state")

	// ErrComputation is returned for malformed input sets
	ErrComputation = errors.New("computation error")

	// ErrPersistence is returned when the durable store cannot be read or written
	ErrPersistence = errors.New("persistence error")
)

// LakeError wraps errors with operation context
type LakeError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *LakeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("semlake: %v", e.Err)
	}
	return fmt.Sprintf("semlake: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *LakeError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *LakeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with operation context. A nil error stays nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &LakeError{Op: op, Err: err}
}

// NotFoundf creates an error marked as ErrNotFound.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

// AlreadyExistsf creates an error marked as ErrAlreadyExists.
func AlreadyExistsf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrAlreadyExists)
}

// InvalidStatef creates an error marked as ErrInvalidState.
func InvalidStatef(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidState)
}

// Computationf creates an error marked as ErrComputation.
func Computationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrComputation)
}

// PersistenceError marks err as ErrPersistence and adds msg as context.
func PersistenceError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrPersistence)
}

// IsNotFound reports whether err is classified as ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err is classified as ErrAlreadyExists.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsInvalidState reports whether err is classified as ErrInvalidState.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsComputation reports whether err is classified as ErrComputation.
func IsComputation(err error) bool { return errors.Is(err, ErrComputation) }

// IsPersistence reports whether err is classified as ErrPersistence.
func IsPersistence(err error) bool { return errors.Is(err, ErrPersistence) }
