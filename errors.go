// Package gemmbatch structured error types for the batched pipeline.
package gemmbatch

import (
	"errors"
	"fmt"
)

// ErrorType categorizes pipeline failures. Every category is fatal to the
// request that raised it: the pipeline performs no retries and produces
// no partial batches.
type ErrorType int

const (
	// ErrTypeAllocation covers device allocator failures. Raised before
	// any kernel launch; nothing has been queued when it surfaces.
	ErrTypeAllocation ErrorType = iota
	// ErrTypeLaunch covers kernel dispatch failures such as malformed
	// launch configurations. No pointer array is read after one.
	ErrTypeLaunch
	// ErrTypePrimitive covers non-success status from the grouped-GEMM
	// primitive. Output buffer contents are undefined afterwards.
	ErrTypePrimitive
	// ErrTypeInvalidArg covers rejected arguments: bad shapes, nil
	// pointers, unsupported types.
	ErrTypeInvalidArg
)

// String returns the error category name.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeAllocation:
		return "AllocationFailure"
	case ErrTypeLaunch:
		return "LaunchFailure"
	case ErrTypePrimitive:
		return "PrimitiveFailure"
	case ErrTypeInvalidArg:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error carries the failure category, the operation that raised it, a
// human-readable message and, when present, the underlying cause.
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gemmbatch %s in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("gemmbatch %s in %s: %s", e.Type.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewAllocationError creates an allocation failure error.
func NewAllocationError(op, message string, err error) error {
	return &Error{Type: ErrTypeAllocation, Op: op, Message: message, Err: err}
}

// NewLaunchError creates a kernel launch failure error.
func NewLaunchError(op, message string, err error) error {
	return &Error{Type: ErrTypeLaunch, Op: op, Message: message, Err: err}
}

// NewPrimitiveError creates a grouped-GEMM primitive failure error.
func NewPrimitiveError(op, message string, err error) error {
	return &Error{Type: ErrTypePrimitive, Op: op, Message: message, Err: err}
}

// NewInvalidArgError creates an invalid argument error.
func NewInvalidArgError(op, message string) error {
	return &Error{Type: ErrTypeInvalidArg, Op: op, Message: message}
}

// Pre-defined errors.

var (
	// ErrOutOfMemory indicates the device allocator cannot satisfy a
	// request within its capacity limit.
	ErrOutOfMemory = NewAllocationError("Malloc", "out of device memory", nil)

	// ErrInvalidSize indicates a non-positive allocation size.
	ErrInvalidSize = NewInvalidArgError("Malloc", "size must be positive")

	// ErrDoubleFree indicates a pointer was freed twice.
	ErrDoubleFree = NewAllocationError("Free", "double free detected", nil)

	// ErrUnknownPointer indicates a free of memory this pool never issued.
	ErrUnknownPointer = NewAllocationError("Free", "pointer not found in allocation pool", nil)
)

// IsAllocationError reports whether err is categorized as an allocation
// failure.
func IsAllocationError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrTypeAllocation
	}
	return false
}

// IsLaunchError reports whether err is categorized as a launch failure.
func IsLaunchError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrTypeLaunch
	}
	return false
}

// IsPrimitiveError reports whether err is categorized as a grouped-GEMM
// primitive failure.
func IsPrimitiveError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrTypePrimitive
	}
	return false
}

// IsInvalidArgError reports whether err is categorized as an invalid
// argument.
func IsInvalidArgError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrTypeInvalidArg
	}
	return false
}
