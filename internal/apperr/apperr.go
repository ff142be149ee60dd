// Package apperr carries the error taxonomy shared by all services. Handlers
// map kinds onto HTTP statuses; services never return raw store errors for
// expected failures.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindInternal is anything not classified below: store connectivity,
	// constraint violations outside the modelled invariants.
	KindInternal Kind = iota
	// KindUnauthorized: no identity, no profile, or a blocked profile.
	KindUnauthorized
	// KindForbidden: authenticated but not permitted for this resource.
	KindForbidden
	// KindNotFound: a referenced entity is absent.
	KindNotFound
	// KindConflict: a state-machine precondition failed (wrong status,
	// insufficient seats, duplicate active request).
	KindConflict
	// KindInvalidArgument: malformed input.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Unauthorized(msg string) error    { return New(KindUnauthorized, msg) }
func Forbidden(msg string) error       { return New(KindForbidden, msg) }
func NotFound(msg string) error        { return New(KindNotFound, msg) }
func Conflict(msg string) error        { return New(KindConflict, msg) }
func InvalidArgument(msg string) error { return New(KindInvalidArgument, msg) }

func Invalidf(format string, args ...any) error {
	return New(KindInvalidArgument, fmt.Sprintf(format, args...))
}

func Internal(err error) error {
	return &Error{Kind: KindInternal, Msg: "internal error", Err: err}
}

// KindOf extracts the kind from anywhere in the chain; unclassified errors
// are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
