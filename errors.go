// Package deferred provides JavaScript-compatible error types with cause
// chain support.
package deferred

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrAlreadySettled is returned by [Deferred.Resolve] and [Deferred.Reject]
	// when the instance has already been settled. The settle-once contract is
	// strict: the second call mutates nothing and fires no notifications.
	ErrAlreadySettled = errors.New("deferred: already settled")

	// ErrGoexit is used to reject a promise when its goroutine exits via
	// runtime.Goexit() without settling.
	ErrGoexit = errors.New("deferred: goroutine exited via runtime.Goexit")

	// ErrPanic matches [PanicError] values via [errors.Is].
	ErrPanic = errors.New("deferred: goroutine panicked")

	// ErrNoneProvided is the underlying cause of the [AggregateError] produced
	// by [Any] when called with no inputs.
	ErrNoneProvided = errors.New("deferred: no promises were provided")
)

// TypeError represents a type error, similar to JavaScript's TypeError.
// It is returned when a handler slot is assigned a value that is neither nil
// nor a compatible function, when a slot name is unknown, and as the
// rejection reason of a promise chain cycle.
type TypeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	if e.Message == "" {
		return "type error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TypeError) Unwrap() error {
	return e.Cause
}

// AggregateError represents the rejection reason produced by [Any] when all
// inputs reject. Errors preserves the order of the input collection.
type AggregateError struct {
	// Message matches the standard JS AggregateError property.
	Message string
	// Errors contains the rejection reasons from all failed inputs.
	Errors []error
}

// Error implements the error interface.
// Individual rejection reasons can be accessed via the Errors field.
func (e *AggregateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "all promises were rejected"
}

// Unwrap returns the errors slice for multi-error unwrapping (Go 1.20+).
// This enables [errors.Is] and [errors.As] to check against all errors
// in the aggregate.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Is implements custom error matching for AggregateError.
// Returns true if target is an AggregateError, regardless of contents;
// contained errors are matched via [AggregateError.Unwrap].
func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	return errors.As(target, &aggTarget)
}

// Cause returns the first error in the Errors slice, if any.
// This is provided for ES2022 .cause compatibility where a single primary
// underlying cause is wanted. Returns nil if Errors is empty.
func (e *AggregateError) Cause() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// PanicError wraps a panic value recovered from a continuation handler,
// an executor, or a [Promisify] function.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("deferred: goroutine panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain. If the panic Value is not an error, returns nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Is matches [ErrPanic], so errors.Is(err, ErrPanic) identifies any
// recovered panic regardless of the panic value.
func (e PanicError) Is(target error) bool {
	return target == ErrPanic
}
