package browser

import (
	"errors"
	"fmt"
)

// ErrAborted is matched by every *AbortError.
var ErrAborted = errors.New("action aborted")

// AbortError reports an action stopped by context cancellation.
type AbortError struct {
	Action string
	Err    error
}

func (e *AbortError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("action %s aborted", e.Action)
	}
	return fmt.Sprintf("action %s aborted: %v", e.Action, e.Err)
}

// Unwrap exposes both ErrAborted and the context error.
func (e *AbortError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAborted}
	}
	return []error{ErrAborted, e.Err}
}

// ActionNotFoundError reports a call to an unregistered action.
type ActionNotFoundError struct {
	Name string
}

func (e *ActionNotFoundError) Error() string {
	return fmt.Sprintf("action not found: %s", e.Name)
}

// ValidationError reports parameters that do not match an action's schema.
type ValidationError struct {
	Action string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Action, e.Detail)
}

// ActionError wraps an unclassified handler failure.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
