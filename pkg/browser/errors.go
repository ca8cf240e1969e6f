package browser

import (
	"errors"
	"fmt"

	"github.com/entrhq/browseruse/pkg/events"
)

var (
	// ErrNotConnected is returned by operations that need a live browser.
	ErrNotConnected = errors.New("browser: session not connected")

	// ErrSessionInUse is returned by Stop while agents still hold claims.
	ErrSessionInUse = errors.New("browser: session is claimed")

	// ErrTabNotFound is returned for unknown tab ids.
	ErrTabNotFound = errors.New("browser: tab not found")

	// ErrNoFocusedTab is returned when the session has no tab to act on.
	ErrNoFocusedTab = errors.New("browser: no focused tab")
)

// BrowserError is a classified failure raised by a browser operation. The
// action layer passes it through unwrapped so callers can match on Type.
type BrowserError struct {
	Type    events.ErrorType
	Message string
	Err     error
}

func (e *BrowserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("browser: %s: %v", e.Message, e.Err)
	}
	return "browser: " + e.Message
}

func (e *BrowserError) Unwrap() error {
	return e.Err
}

// IsBrowserError reports whether err carries a BrowserError.
func IsBrowserError(err error) bool {
	var be *BrowserError
	return errors.As(err, &be)
}
