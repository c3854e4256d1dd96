// Package apperr defines the error kinds shared by the shop services and the
// conversation layer.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an application error.
type Kind string

const (
	// KindValidation marks malformed user input.
	KindValidation Kind = "validation"
	// KindAuthorization marks a non-admin touching an admin-only action.
	KindAuthorization Kind = "authorization"
	// KindNotFound marks a missing entity.
	KindNotFound Kind = "not_found"
	// KindAlreadyHandled marks an entity that was already resolved.
	KindAlreadyHandled Kind = "already_handled"
	// KindStorage marks a persistence failure.
	KindStorage Kind = "storage"
	// KindTransport marks a failed outbound call to the chat transport.
	KindTransport Kind = "transport"
)

// Error carries the kind, the failing operation and an optional user-facing message.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Code is picked up by the handler summary logger as err_code.
func (e *Error) Code() string {
	return string(e.Kind)
}

// LogStatus is picked up by logger.Status: rejected input, denied access and
// duplicate resolutions are not failures of the bot.
func (e *Error) LogStatus() string {
	switch e.Kind {
	case KindValidation:
		return "rejected"
	case KindAuthorization:
		return "denied"
	case KindAlreadyHandled:
		return "skip"
	default:
		return "fail"
	}
}

// Validation builds a validation error whose message is shown to the user.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// Validationf formats the user-facing message.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Unauthorized builds an authorization error.
func Unauthorized(op string) *Error {
	return &Error{Kind: KindAuthorization, Op: op}
}

// NotFound builds a not-found error.
func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// AlreadyHandled builds an already-handled error.
func AlreadyHandled(op, msg string) *Error {
	return &Error{Kind: KindAlreadyHandled, Op: op, Msg: msg}
}

// Storage wraps a persistence failure. A nil err returns nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// Transport wraps a chat transport failure. A nil err returns nil.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of err, if any.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return ""
}
