package eventbus

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateHandler is returned by On when the handler id is already
	// registered for the event type.
	ErrDuplicateHandler = errors.New("eventbus: duplicate handler")

	// ErrNilHandler is returned by On for a nil callback.
	ErrNilHandler = errors.New("eventbus: nil handler")
)

// HandlerTimeoutError reports a handler that did not settle before its
// deadline.
type HandlerTimeoutError struct {
	EventType string
	HandlerID string
	Timeout   time.Duration
}

func (e *HandlerTimeoutError) Error() string {
	return fmt.Sprintf("eventbus: handler %q for %s timed out after %s", e.HandlerID, e.EventType, e.Timeout)
}

// DispatchError is the aggregate failure returned when a dispatch asked to
// fail on handler errors.
type DispatchError struct {
	Result *DispatchResult
}

func (e *DispatchError) Error() string {
	r := e.Result
	if len(r.Errors) == 0 {
		return fmt.Sprintf("eventbus: dispatch of %s (%s) failed", r.Event.Type, r.Event.ID)
	}
	return fmt.Sprintf("eventbus: dispatch of %s (%s) %s: %d handler error(s), first: %v",
		r.Event.Type, r.Event.ID, r.Status, len(r.Errors), r.Errors[0])
}

// Unwrap exposes every handler error to errors.Is and errors.As.
func (e *DispatchError) Unwrap() []error {
	return e.Result.Errors
}

// IsTimeout reports whether err is or wraps a HandlerTimeoutError.
func IsTimeout(err error) bool {
	var te *HandlerTimeoutError
	return errors.As(err, &te)
}
