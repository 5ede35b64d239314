package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is; the concrete *Error carries the
// operation and folder for diagnostics.
var (
	// ErrUnavailable means a session could not be established
	// (configuration, network or authentication).
	ErrUnavailable = errors.New("gateway unavailable")

	// ErrTimeout means a session was established but the operation
	// exceeded its deadline.
	ErrTimeout = errors.New("gateway timeout")

	// ErrProtocol means the server returned something that could not be
	// parsed or was rejected by the client library.
	ErrProtocol = errors.New("protocol error")

	// ErrDeliveryConfig means transport credentials are absent or invalid.
	ErrDeliveryConfig = errors.New("delivery configuration error")

	// ErrDelivery is a transient send failure; the caller may retry.
	ErrDelivery = errors.New("delivery error")

	// ErrNotFound means the referenced message or folder does not exist.
	ErrNotFound = errors.New("not found")
)

// Error describes a failed gateway operation.
type Error struct {
	Kind   error
	Op     string
	Folder string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Folder != "" {
		msg += " " + e.Folder
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an *Error of the given kind.
func NewError(kind error, op, folder string, err error) *Error {
	return &Error{Kind: kind, Op: op, Folder: folder, Err: err}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(kind error, op, folder, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Folder: folder, Err: fmt.Errorf(format, args...)}
}

// IsTimeout reports whether err (or any error in its chain) is a timeout,
// including a bare context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return IsTimeout(err) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrDelivery)
}

// KindOf returns the error kind of err, or nil if err is not a gateway
// error.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrTimeout, ErrUnavailable, ErrProtocol,
		ErrDeliveryConfig, ErrDelivery, ErrNotFound,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
