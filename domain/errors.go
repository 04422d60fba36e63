package domain

import (
	"errors"
	"fmt"

	pingcaperrors "github.com/pingcap/errors"
)

// ErrorKind tags every engine error so HTTP handlers can map it to a
// status code without string matching.
type ErrorKind string

const (
	KindInvalidRequest     ErrorKind = "InvalidRequest"
	KindUnknownTransaction ErrorKind = "UnknownTransaction"
	KindIllegalState       ErrorKind = "IllegalState"
	KindLockConflict       ErrorKind = "LockConflict"
	KindTimeout            ErrorKind = "Timeout"
	KindTransportError     ErrorKind = "TransportError"
	KindInternal           ErrorKind = "Internal"
)

// Error is the concrete error type returned by the store, both engines
// and the transport adapter. It wraps an optional cause so Internal errors keep
// enough context for log correlation even after they cross a function
// boundary.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, NewError(KindLockConflict, "")) match any
// *Error of the same Kind, whatever its message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapInternal wraps an unexpected error with a stack-carrying cause so
// context survives across layers instead of collapsing into a bare
// string.
func WrapInternal(cause error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: pingcaperrors.WithStack(cause)}
}

// KindOf extracts the ErrorKind of err, defaulting to KindInternal for
// errors that did not originate from this package.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
