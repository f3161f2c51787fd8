package corral

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfig reports an invalid repository configuration. It is returned
// synchronously at construction, never from an operation.
type ErrConfig struct {
	Field  string // The offending option, if attributable
	Reason string // Why the configuration was rejected
}

func (e ErrConfig) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid repository configuration for '%s': %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid repository configuration: %s", e.Reason)
}

// IsConfig checks if an error is a configuration error.
func IsConfig(err error) bool {
	var e ErrConfig
	return errors.As(err, &e)
}

// ErrReadonlyViolation reports a write or unset touching managed or scope
// attributes. Fields lists every offender, in the order encountered.
type ErrReadonlyViolation struct {
	Fields []string
}

func (e ErrReadonlyViolation) Error() string {
	return fmt.Sprintf("write touches readonly fields: %s", strings.Join(e.Fields, ", "))
}

// IsReadonlyViolation checks if an error is a readonly violation.
func IsReadonlyViolation(err error) bool {
	var e ErrReadonlyViolation
	return errors.As(err, &e)
}

// ErrSetUnsetOverlap reports attributes appearing in both the set and unset
// halves of an update.
type ErrSetUnsetOverlap struct {
	Fields []string
}

func (e ErrSetUnsetOverlap) Error() string {
	return fmt.Sprintf("fields appear in both set and unset: %s", strings.Join(e.Fields, ", "))
}

// IsSetUnsetOverlap checks if an error is a set/unset overlap.
func IsSetUnsetOverlap(err error) bool {
	var e ErrSetUnsetOverlap
	return errors.As(err, &e)
}

// ErrScopeBreach reports a read filter contradicting the repository scope. It
// is only returned when the caller selects FailOnScopeBreach; the default
// policy answers such reads with an empty result.
type ErrScopeBreach struct {
	Field string
	Want  any
	Got   any
}

func (e ErrScopeBreach) Error() string {
	return fmt.Sprintf("filter contradicts scope on '%s': scope has %v, filter wants %v", e.Field, e.Want, e.Got)
}

// IsScopeBreach checks if an error is a scope breach.
func IsScopeBreach(err error) bool {
	var e ErrScopeBreach
	return errors.As(err, &e)
}

// ErrInvalidCursor reports a pagination cursor that does not resolve to a
// document visible under the current scope.
type ErrInvalidCursor struct {
	Cursor string
	Reason string
}

func (e ErrInvalidCursor) Error() string {
	return fmt.Sprintf("invalid cursor '%s': %s", e.Cursor, e.Reason)
}

// IsInvalidCursor checks if an error is an invalid cursor error.
func IsInvalidCursor(err error) bool {
	var e ErrInvalidCursor
	return errors.As(err, &e)
}

// ErrConflict reports an identity collision on create.
type ErrConflict struct {
	ID     string
	Reason string
}

func (e ErrConflict) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("conflict on id '%s': %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("conflict on id '%s'", e.ID)
}

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool {
	var e ErrConflict
	return errors.As(err, &e)
}

// ErrPartialFailure reports a createMany that inserted some entities and not
// others. InsertedIDs and FailedIDs partition the requested identities;
// FailedIDs includes entities skipped because an earlier batch failed. Both
// preserve input order.
type ErrPartialFailure struct {
	InsertedIDs []string
	FailedIDs   []string
	Cause       error
}

func (e ErrPartialFailure) Error() string {
	return fmt.Sprintf("createMany partially failed: %d inserted, %d failed", len(e.InsertedIDs), len(e.FailedIDs))
}

func (e ErrPartialFailure) Unwrap() error { return e.Cause }

// IsPartialFailure checks if an error is a createMany partial failure.
func IsPartialFailure(err error) bool {
	var e ErrPartialFailure
	return errors.As(err, &e)
}

// AsPartialFailure extracts the partial failure detail from an error chain.
func AsPartialFailure(err error) (ErrPartialFailure, bool) {
	var e ErrPartialFailure
	ok := errors.As(err, &e)
	return e, ok
}

// ErrStreamConsumed reports a second consumption attempt on a stream.
type ErrStreamConsumed struct{}

func (ErrStreamConsumed) Error() string { return "query stream already consumed" }

// IsStreamConsumed checks if an error is a stream reuse error.
func IsStreamConsumed(err error) bool {
	var e ErrStreamConsumed
	return errors.As(err, &e)
}

// ErrBackend wraps any backend failure not captured by a more specific kind.
// Unwrap exposes the driver error for errors.Is/As inspection.
type ErrBackend struct {
	Op  string // The repository operation that failed
	Err error
}

func (e ErrBackend) Error() string {
	return fmt.Sprintf("backend error in %s: %v", e.Op, e.Err)
}

func (e ErrBackend) Unwrap() error { return e.Err }

// IsBackend checks if an error is a wrapped backend error.
func IsBackend(err error) bool {
	var e ErrBackend
	return errors.As(err, &e)
}

// NewBackendError wraps a driver error with the failing operation name.
func NewBackendError(op string, err error) ErrBackend {
	return ErrBackend{Op: op, Err: err}
}
