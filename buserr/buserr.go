// Package buserr defines the typed error taxonomy the bus surfaces to
// callers (spec.md §7), following the teacher's sentinel-wrap idiom
// (fmt.Errorf("%w: ...", Sentinel)) instead of ad hoc string errors.
package buserr

import (
	"errors"
	"fmt"
)

// Sentinels identify the error kind for errors.Is checks.
var (
	ErrNotStarted          = errors.New("bus: not started")
	ErrInvalidTopic        = errors.New("bus: invalid topic")
	ErrNoHandler           = errors.New("bus: no handler")
	ErrInvalidServiceState = errors.New("bus: invalid service state")
	ErrHandlerError        = errors.New("bus: handler error")
	ErrRemoteError         = errors.New("bus: remote transport error")
	ErrNotFound            = errors.New("bus: not found")
	ErrTimeout             = errors.New("bus: timeout")
)

// NotStarted wraps ErrNotStarted with the attempted operation name.
func NotStarted(op string) error {
	return fmt.Errorf("%w: %s", ErrNotStarted, op)
}

// InvalidTopic wraps ErrInvalidTopic with the parse failure reason.
func InvalidTopic(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidTopic, reason)
}

// NoHandler wraps ErrNoHandler with the unresolved path.
func NoHandler(path string) error {
	return fmt.Errorf("%w: %s", ErrNoHandler, path)
}

// InvalidServiceState wraps ErrInvalidServiceState with the current state.
func InvalidServiceState(current string) error {
	return fmt.Errorf("%w: current state %s", ErrInvalidServiceState, current)
}

// HandlerError wraps ErrHandlerError, propagating the handler's message
// verbatim per spec.md §7.
func HandlerError(msg string) error {
	return fmt.Errorf("%w: %s", ErrHandlerError, msg)
}

// RemoteError wraps ErrRemoteError with the transport's message.
func RemoteError(msg string) error {
	return fmt.Errorf("%w: %s", ErrRemoteError, msg)
}

// NotFound wraps ErrNotFound with the id or path that was not found (a
// subscription id, or a service topic/path).
func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Timeout wraps ErrTimeout with context about what timed out.
func Timeout(what string) error {
	return fmt.Errorf("%w: %s", ErrTimeout, what)
}

// sentinels lists every taxonomy member, for IsKnown.
var sentinels = []error{
	ErrNotStarted, ErrInvalidTopic, ErrNoHandler, ErrInvalidServiceState,
	ErrHandlerError, ErrRemoteError, ErrNotFound, ErrTimeout,
}

// IsKnown reports whether err already wraps one of the taxonomy's
// sentinels. Node.Request uses this to avoid double-wrapping a typed bus
// error (e.g. InvalidServiceState from a built-in action) inside
// HandlerError when a handler returns it verbatim.
func IsKnown(err error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}
