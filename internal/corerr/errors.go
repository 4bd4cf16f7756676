// Package corerr defines the error taxonomy shared by every core package.
//
// Every fallible operation in this module returns a *corerr.Error (or nil),
// never a bare sentinel or a panic that crosses a package boundary. Dispatch
// and timer callback boundaries recover panics and convert them to KindInternal.
package corerr

import "fmt"

// Kind is a closed taxonomy of failure categories, not concrete error types.
type Kind int8

const (
	KindUnspecified Kind = iota
	KindArg
	KindNotFound
	KindRepeat
	KindState
	KindProtocolError
	KindWouldBlock
	KindClosed
	KindTimeout
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindArg:
		return "Arg"
	case KindNotFound:
		return "NotFound"
	case KindRepeat:
		return "Repeat"
	case KindState:
		return "State"
	case KindProtocolError:
		return "ProtocolError"
	case KindWouldBlock:
		return "WouldBlock"
	case KindClosed:
		return "Closed"
	case KindTimeout:
		return "Timeout"
	case KindInternal:
		return "Internal"
	default:
		return "Unspecified"
	}
}

// Error is the concrete error type returned across the core API.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a Kind-tagged error around an existing cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf extracts the Kind of err, or KindUnspecified if err isn't a *Error.
func KindOf(err error) Kind {
	var ce *Error
	if as(err, &ce) {
		return ce.Kind
	}
	return KindUnspecified
}

// as is a tiny local errors.As to avoid importing the stdlib package twice
// at call sites that already alias it; kept trivial on purpose.
func as(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
