// Package errors provides categorized error types shared across
// syncore, with sync-core failure categories (divergence, transport,
// storage) folded in alongside the base set.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies an error for dispatch/retry decisions.
type Category string

const (
	// CategoryStructural: malformed delta, cycle claim, bad payload.
	// Reject at admit boundary; never buffered, never re-requested.
	CategoryStructural Category = "structural"
	// CategoryMissingParent: unknown parent id. Buffered; triggers a
	// coalesced on-demand parent-request hint.
	CategoryMissingParent Category = "missing_parent"
	// CategoryTransient: storage contention, lock timeout. Transaction
	// discarded; left un-applied for the next sweep's delta-sync retry.
	CategoryTransient Category = "transient"
	// CategoryFatal: deterministic applier logic error. Transaction
	// discarded; not retried; surfaced via metric.
	CategoryFatal Category = "fatal"
	// CategoryProtocol: bad opcode, truncated frame, reconciliation
	// timeout. Stream aborted; counted; next sweep may retry.
	CategoryProtocol Category = "protocol"
	// CategorySnapshotAtomicity: storage commit failed mid-install.
	// Rolled back to the pre-snapshot sync state.
	CategorySnapshotAtomicity Category = "snapshot_atomicity"
	// CategoryValidation indicates input validation failures.
	CategoryValidation Category = "validation"
	// CategoryNetwork indicates transport-layer failures.
	CategoryNetwork Category = "network"
	// CategoryInternal indicates unexpected internal failures.
	CategoryInternal Category = "internal"
)

// Categorized is an error carrying a disposition category.
type Categorized interface {
	error
	Category() Category
}

func categoryOf(err error) (Category, bool) {
	var cat Categorized
	if errors.As(err, &cat) {
		return cat.Category(), true
	}
	return "", false
}

// IsRetryable reports whether err should be retried on a future sweep
// rather than surfaced or discarded permanently.
func IsRetryable(err error) bool {
	cat, ok := categoryOf(err)
	return ok && (cat == CategoryTransient || cat == CategoryProtocol || cat == CategorySnapshotAtomicity)
}

// IsStructural reports whether err should reject the delta at the admit
// boundary without buffering or re-request.
func IsStructural(err error) bool {
	cat, ok := categoryOf(err)
	return ok && cat == CategoryStructural
}

// IsFatal reports whether err is a deterministic applier failure that
// must not be retried.
func IsFatal(err error) bool {
	cat, ok := categoryOf(err)
	return ok && cat == CategoryFatal
}

func IsValidation(err error) bool {
	cat, ok := categoryOf(err)
	return ok && cat == CategoryValidation
}

func IsNetwork(err error) bool {
	cat, ok := categoryOf(err)
	return ok && cat == CategoryNetwork
}

// Wrap adds context to an error, preserving Categorized via errors.As.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(msg string) error                       { return errors.New(msg) }
func Newf(format string, args ...any) error      { return fmt.Errorf(format, args...) }
func Is(err, target error) bool                  { return errors.Is(err, target) }
func As(err error, target any) bool              { return errors.As(err, target) }
func Join(errs ...error) error                   { return errors.Join(errs...) }

// StructuralError: malformed delta, cycle claim, payload decode failure.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string   { return fmt.Sprintf("structural: %s", e.Reason) }
func (e *StructuralError) Category() Category { return CategoryStructural }

func NewStructuralError(reason string) *StructuralError {
	return &StructuralError{Reason: reason}
}

// TransientError: storage commit contention, lock timeout.
type TransientError struct {
	Operation string
	Cause     error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error in %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("transient error in %s", e.Operation)
}
func (e *TransientError) Category() Category { return CategoryTransient }
func (e *TransientError) Unwrap() error      { return e.Cause }

func NewTransientError(operation string, cause error) *TransientError {
	return &TransientError{Operation: operation, Cause: cause}
}

// FatalError: deterministic logic error in applier code.
type FatalError struct {
	DeltaID string
	Cause   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal applier error for delta %s: %v", e.DeltaID, e.Cause)
}
func (e *FatalError) Category() Category { return CategoryFatal }
func (e *FatalError) Unwrap() error      { return e.Cause }

func NewFatalError(deltaID string, cause error) *FatalError {
	return &FatalError{DeltaID: deltaID, Cause: cause}
}

// ProtocolError: bad opcode, truncated frame, reconciliation timeout.
type ProtocolError struct {
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}
func (e *ProtocolError) Category() Category { return CategoryProtocol }

func NewProtocolError(code uint32, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// ValidationError represents input validation failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Message)
}
func (e *ValidationError) Category() Category { return CategoryValidation }

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InternalError represents unexpected internal failures.
type InternalError struct {
	Operation string
	Cause     error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal error in %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("internal error in %s", e.Operation)
}
func (e *InternalError) Category() Category { return CategoryInternal }
func (e *InternalError) Unwrap() error      { return e.Cause }

func NewInternalError(operation string, cause error) *InternalError {
	return &InternalError{Operation: operation, Cause: cause}
}
