// Package errors defines error types and utilities for dynaquery
package errors

import (
	"errors"
	"fmt"
)

// Compile-time errors are returned before any request reaches the store
var (
	// ErrUsePointLookup is returned when the filter binds the full key of a
	// primary index that has no range key; the caller should use Get instead
	ErrUsePointLookup = errors.New("filter matches the primary key exactly, use point lookup instead")

	// ErrInvalidOperator is returned when an unsupported filter operator is used
	ErrInvalidOperator = errors.New("invalid query operator")

	// ErrMalformedFilter is returned when a filter document has the wrong shape
	ErrMalformedFilter = errors.New("malformed filter")

	// ErrInvalidOptions is returned for bad sort directions or limits
	ErrInvalidOptions = errors.New("invalid query options")

	// ErrInvalidTopology is returned when a table's index layout is inconsistent
	ErrInvalidTopology = errors.New("invalid index topology")
)

// Runtime errors
var (
	// ErrItemNotFound is returned when an item is not found in the database
	ErrItemNotFound = errors.New("item not found")

	// ErrMissingPrimaryKey is returned when a key or item lacks the table's key attributes
	ErrMissingPrimaryKey = errors.New("missing primary key")

	// ErrStoreFailure marks every error that came back from the store client
	ErrStoreFailure = errors.New("store request failed")

	// ErrBatchOperationFailed is returned when one or more batch chunks fail
	ErrBatchOperationFailed = errors.New("batch operation failed")
)

// QueryError represents a detailed error with context
type QueryError struct {
	Op      string         // Operation that failed
	Table   string         // Table the operation targeted
	Err     error          // Underlying error
	Context map[string]any // Additional context
}

// Error implements the error interface
func (e *QueryError) Error() string {
	// Filter values and context stay out of the message; they may hold user data
	return fmt.Sprintf("dynaquery: %s operation failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error
func (e *QueryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new QueryError
func NewError(op, table string, err error) *QueryError {
	return &QueryError{
		Op:    op,
		Table: table,
		Err:   err,
	}
}

// NewErrorWithContext creates a new QueryError with context
func NewErrorWithContext(op, table string, err error, context map[string]any) *QueryError {
	return &QueryError{
		Op:      op,
		Table:   table,
		Err:     err,
		Context: context,
	}
}

// NewStoreError wraps an error returned by the store client so that
// IsStoreError can tell it apart from compile-time errors.
func NewStoreError(op, table string, err error) *QueryError {
	return &QueryError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: %w", ErrStoreFailure, err),
	}
}

// IsNotFound checks if an error indicates an item was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}

// IsUsePointLookup checks if the query should have been a point lookup
func IsUsePointLookup(err error) bool {
	return errors.Is(err, ErrUsePointLookup)
}

// IsStoreError checks if an error originated in the store client
func IsStoreError(err error) bool {
	return errors.Is(err, ErrStoreFailure)
}

// IsCompileError checks if an error was raised while compiling a query
func IsCompileError(err error) bool {
	return errors.Is(err, ErrUsePointLookup) ||
		errors.Is(err, ErrInvalidOperator) ||
		errors.Is(err, ErrMalformedFilter) ||
		errors.Is(err, ErrInvalidOptions)
}
