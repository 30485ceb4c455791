package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable classification carried by every
// failed command result.
type ErrorKind string

const (
	// KindInvalidArgs means the arguments failed schema validation; the caller
	// can recover by fixing its input.
	KindInvalidArgs ErrorKind = "INVALID_ARGS"
	// KindForbidden means the caller is not authorized; retrying without
	// different credentials will not help.
	KindForbidden ErrorKind = "FORBIDDEN"
	// KindNotFound means the referenced entity does not exist; the caller
	// likely holds a stale reference and should refresh.
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindInternal means an unexpected server failure; safe to retry with
	// backoff.
	KindInternal ErrorKind = "INTERNAL"
	// KindTransportLost means the connection dropped before the callback
	// arrived. The command's outcome is unknown; neither success nor failure
	// may be assumed.
	KindTransportLost ErrorKind = "TRANSPORT_LOST"
)

// Error is a kind-tagged error surfaced through a command result.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf creates a kind-tagged error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err. Untagged errors classify as
// KindInternal.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
