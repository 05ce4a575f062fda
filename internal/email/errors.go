package email

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the console can report what went wrong
// without inspecting library-specific error types.
type Kind int

const (
	KindUnknown Kind = iota
	KindAddress
	KindAuth
	KindConnection
	KindProtocol
	KindPersist
	KindDeserialize
)

func (k Kind) String() string {
	switch k {
	case KindAddress:
		return "invalid address"
	case KindAuth:
		return "authentication failed"
	case KindConnection:
		return "connection failed"
	case KindProtocol:
		return "protocol error"
	case KindPersist:
		return "write failed"
	case KindDeserialize:
		return "corrupt data"
	default:
		return "error"
	}
}

// Error is a classified failure from a provider, the inbox reader, or the
// ledger.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err (or any error in its chain) is an *Error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var mailErr *Error
	if !errors.As(err, &mailErr) {
		return false
	}
	return mailErr.Kind == kind
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var mailErr *Error
	if errors.As(err, &mailErr) {
		return mailErr.Kind
	}
	return KindUnknown
}
