// Package shm implements the shared-memory buffer provider: backend
// interface, composable allocation policies, and the Provider that ties a
// backend, the header subsystem, and the watchdog subsystem together into
// tracked, cross-process-attachable buffers.
package shm

import (
	"errors"
	"fmt"
)

// ErrorCode is the high-level error category surfaced to a Provider's
// consumer.
type ErrorCode string

const (
	ErrCodeNeedDefragment  ErrorCode = "need defragment"
	ErrCodeOutOfMemory     ErrorCode = "out of memory"
	ErrCodeBadAlignment    ErrorCode = "bad alignment"
	ErrCodeBadLayout       ErrorCode = "bad layout"
	ErrCodeExhausted       ErrorCode = "exhausted"
	ErrCodeSegmentNotFound ErrorCode = "segment not found"
	ErrCodeStaleDescriptor ErrorCode = "stale descriptor"
	ErrCodeOther           ErrorCode = "other"
)

// Error is a structured error carrying the failed operation, its category,
// and (optionally) the underlying cause.
type Error struct {
	Op    string
	Code  ErrorCode
	Inner error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("shm: %s", e.Code)
	}
	if e.Inner != nil {
		return fmt.Sprintf("shm: %s: %s: %v", e.Op, e.Code, e.Inner)
	}
	return fmt.Sprintf("shm: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a structured error with no wrapped cause.
func NewError(op string, code ErrorCode) *Error {
	return &Error{Op: op, Code: code}
}

// WrapError wraps an existing error under the given operation and code.
// If inner is already a *Error, its code is preserved unless code is
// explicitly ErrCodeOther, matching the "re-tag the operation, keep the
// category" behavior consumers expect when an error crosses a layer.
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if se, ok := inner.(*Error); ok && code == ErrCodeOther {
		return &Error{Op: op, Code: se.Code, Inner: se}
	}
	return &Error{Op: op, Code: code, Inner: inner}
}

// IsCode reports whether err is a *Error (at any wrap depth) of the given
// code.
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
