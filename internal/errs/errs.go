// Package errs defines the error taxonomy returned by the robot stores.
//
// Every typed error matches its sentinel under errors.Is, so callers can
// switch on the category without caring about the concrete type:
//
//	if errors.Is(err, errs.ErrConflict) { ... }
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("name already in use")
	ErrNotFound    = errors.New("robot not found")
	ErrStorage     = errors.New("storage unavailable")
	ErrUnsupported = errors.New("operation not supported by this backend")
)

// ViolationSeparator joins the violated rules of a ValidationError.
const ViolationSeparator = " | "

// Violation is one broken field rule.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// ValidationError carries every violated rule at once, not just the first one.
type ValidationError struct {
	Violations []Violation
}

// NewValidationError builds a ValidationError, or returns nil when there is nothing to report.
func NewValidationError(violations ...Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, ViolationSeparator)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Prefixed returns a copy whose field names are prefixed, e.g. "robots[3].year".
func (e *ValidationError) Prefixed(prefix string) *ValidationError {
	out := make([]Violation, len(e.Violations))
	for i, v := range e.Violations {
		field := prefix
		if v.Field != "" {
			field = prefix + "." + v.Field
		}
		out[i] = Violation{Field: field, Message: v.Message}
	}
	return &ValidationError{Violations: out}
}

// ConflictError reports a name collision with another active robot.
type ConflictError struct {
	Name string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("name %q already in use", e.Name)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NotFoundError reports a stale id reference.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("robot %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError wraps an I/O, transaction or migration failure.
type StorageError struct {
	Op  string
	Err error
}

// Storage wraps err as a StorageError. Errors that already belong to the
// taxonomy are returned unchanged so they are never double-wrapped.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// IsDomain reports whether err already carries one of the taxonomy categories.
func IsDomain(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrUnsupported)
}
