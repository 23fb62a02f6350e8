// Package errdefs defines the error kinds surfaced by hearth operations.
//
// Every error returned to a caller carries at most one kind. Kinds are
// sentinel values, so callers test them with errors.Is:
//
//	if errors.Is(err, errdefs.ErrNotFound) {
//	    ...
//	}
//
// Constructors in this package return an *Error that unwraps to both the
// kind and the underlying cause, so wrapping with fmt.Errorf("...: %w")
// keeps the kind visible.
package errdefs

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrHypervisor        = errors.New("hypervisor error")
	ErrResourceExhausted = errors.New("resource exhausted")
)

// Kind names as reported to callers.
const (
	KindNotFound          = "NotFound"
	KindConflict          = "Conflict"
	KindInvalidArgument   = "InvalidArgument"
	KindHypervisor        = "HypervisorError"
	KindResourceExhausted = "ResourceExhausted"
)

// Error is a kinded error with a message and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind, cause error, format string, args []any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// NotFound returns an ErrNotFound error.
func NotFound(format string, args ...any) error {
	return newError(ErrNotFound, nil, format, args)
}

// Conflict returns an ErrConflict error.
func Conflict(format string, args ...any) error {
	return newError(ErrConflict, nil, format, args)
}

// InvalidArgument returns an ErrInvalidArgument error.
func InvalidArgument(format string, args ...any) error {
	return newError(ErrInvalidArgument, nil, format, args)
}

// Exhausted returns an ErrResourceExhausted error.
func Exhausted(format string, args ...any) error {
	return newError(ErrResourceExhausted, nil, format, args)
}

// Hypervisor wraps a failure reported by libvirt. The original message is
// kept in the error text.
func Hypervisor(cause error, format string, args ...any) error {
	return newError(ErrHypervisor, cause, format, args)
}

// KindOf returns the caller-facing kind name of err, or "" when err carries
// no kind.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrHypervisor):
		return KindHypervisor
	default:
		return ""
	}
}
