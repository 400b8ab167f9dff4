// Package natserr defines the stable error identifiers shared across the
// protocol engine. Each failure carries a Kind callers can branch on with
// errors.Is/errors.As, independent of the wrapped message or cause.
package natserr

import "errors"

// Kind is a stable identifier for a class of failure, independent of the
// human-readable message wrapped around it.
type Kind string

const (
	BadSubject         Kind = "BAD_SUBJECT"
	BadHeader          Kind = "BAD_HEADER"
	BadPayload         Kind = "BAD_PAYLOAD"
	ConnectionClosed   Kind = "CONNECTION_CLOSED"
	ConnectionDraining Kind = "CONNECTION_DRAINING"
	ConnectionRefused  Kind = "CONNECTION_REFUSED"
	ConnectionTimeout  Kind = "CONNECTION_TIMEOUT"
	ServerOptionNA     Kind = "SERVER_OPTION_NA"
	AuthorizationViol  Kind = "AUTHORIZATION_VIOLATION"
	PermissionsViol    Kind = "PERMISSIONS_VIOLATION"
	StaleConnection    Kind = "STALE_CONNECTION"
	SlowConsumer       Kind = "SLOW_CONSUMER"
	Timeout            Kind = "TIMEOUT"
	MaxPayloadExceeded Kind = "MAX_PAYLOAD_EXCEEDED"
	ProtocolError      Kind = "PROTOCOL_ERROR"
	NoResponders       Kind = "NO_RESPONDERS"
)

// Error pairs a stable Kind with a human-readable detail message. It is the
// concrete error type returned across package boundaries in this module so
// callers can branch on Kind without string-matching the message.
type Error struct {
	Kind    Kind
	Message string
	Err     error // optional wrapped cause
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, natserr.New(kind, "")) match on Kind alone,
// ignoring Message/Err, so call sites can do:
//
//	if errors.Is(err, &natserr.Error{Kind: natserr.Timeout}) { ... }
//
// without constructing a full sentinel for every kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// fatalKinds are the -ERR / close conditions that tear the connection down
// rather than leaving it live.
var fatalKinds = map[Kind]bool{
	AuthorizationViol: true,
	PermissionsViol:   true,
	StaleConnection:   true,
	SlowConsumer:      true,
}

// IsFatal reports whether kind is one of the fatal server conditions that
// close the connection instead of triggering a reconnect or leaving the
// connection live.
func IsFatal(kind Kind) bool {
	return fatalKinds[kind]
}
