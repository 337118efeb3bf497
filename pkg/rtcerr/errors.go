// Package rtcerr defines the error taxonomy for the real-time
// coordination engine. Transport failures are recovered automatically
// and surface only through the error callback and connection snapshot;
// permission and validation failures are local synchronous rejections.
package rtcerr

import (
	"errors"
	"fmt"
)

// Kind discriminates error categories for errors.Is checks.
type Kind string

const (
	KindConnection       Kind = "connection"
	KindPermissionDenied Kind = "permission_denied"
	KindRoomOperation    Kind = "room_operation"
	KindValidation       Kind = "validation"
)

// Sentinels for errors.Is.
var (
	ErrConnection       = &Error{kind: KindConnection}
	ErrPermissionDenied = &Error{kind: KindPermissionDenied}
	ErrRoomOperation    = &Error{kind: KindRoomOperation}
	ErrValidation       = &Error{kind: KindValidation}
)

// Error is the common base: a message plus a free-form context map for
// diagnostics.
type Error struct {
	kind    Kind
	msg     string
	cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

// Is matches any error of the same kind, so
// errors.Is(err, rtcerr.ErrValidation) works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.kind == t.kind
}

// With attaches a context value and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Connectionf wraps a transport-level failure.
func Connectionf(cause error, format string, args ...any) *Error {
	return newError(KindConnection, cause, format, args...)
}

// PermissionDeniedf marks a locally rejected emission. The message
// should name the required role so the operator understands why the
// control is inert.
func PermissionDeniedf(format string, args ...any) *Error {
	return newError(KindPermissionDenied, nil, format, args...)
}

// RoomOperationf marks a failed join/leave.
func RoomOperationf(cause error, format string, args ...any) *Error {
	return newError(KindRoomOperation, cause, format, args...)
}

// Validationf marks a structurally invalid payload.
func Validationf(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}
