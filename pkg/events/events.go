// Package events is the catalog of typed payloads exchanged on a browser
// session's event bus.
package events

import (
	"time"

	"github.com/entrhq/browseruse/pkg/eventbus"
)

const (
	TypeBrowserStart       = "BrowserStartEvent"       // TypeBrowserStart is dispatched before a session connects.
	TypeBrowserConnected   = "BrowserConnectedEvent"   // TypeBrowserConnected is dispatched once the browser connection is live.
	TypeBrowserStop        = "BrowserStopEvent"        // TypeBrowserStop is dispatched when a session begins tearing down.
	TypeBrowserStopped     = "BrowserStoppedEvent"     // TypeBrowserStopped is dispatched after the connection is closed.
	TypeBrowserError       = "BrowserErrorEvent"       // TypeBrowserError reports a classified browser-level failure.
	TypeTargetCrashed      = "TargetCrashedEvent"      // TypeTargetCrashed reports a renderer crash on one target.
	TypeTabCreated         = "TabCreatedEvent"         // TypeTabCreated is dispatched when the session opens or adopts a tab.
	TypeTabClosed          = "TabClosedEvent"          // TypeTabClosed is dispatched when a tab leaves the tab table.
	TypeAgentFocusChanged  = "AgentFocusChangedEvent"  // TypeAgentFocusChanged is dispatched when the focused tab changes.
	TypeNavigationComplete = "NavigationCompleteEvent" // TypeNavigationComplete is dispatched after a navigation settles.
	TypeAgentClaimed       = "AgentClaimedEvent"       // TypeAgentClaimed is dispatched when an agent claims the session.
	TypeAgentReleased      = "AgentReleasedEvent"      // TypeAgentReleased is dispatched when an agent releases its claim.
)

// ErrorType classifies a BrowserErrorEvent so observers can react without
// knowing which component raised it.
type ErrorType string

const (
	ErrorTargetCrash        ErrorType = "TargetCrash"              // ErrorTargetCrash indicates a renderer process crashed.
	ErrorNetworkTimeout     ErrorType = "NetworkTimeout"           // ErrorNetworkTimeout indicates a request stayed pending past its deadline.
	ErrorTargetUnresponsive ErrorType = "TargetUnresponsive"       // ErrorTargetUnresponsive indicates a page failed repeated health checks.
	ErrorPermissions        ErrorType = "PermissionsWatchdogError" // ErrorPermissions indicates permissions could not be granted.
	ErrorBrowserStart       ErrorType = "BrowserStartError"        // ErrorBrowserStart indicates the browser connection could not be established.
	ErrorNavigation         ErrorType = "NavigationError"          // ErrorNavigation indicates a page failed to load.
)

// BrowserStartEvent is dispatched before a session connects.
type BrowserStartEvent struct {
	// CDPURL is the remote endpoint to connect to, empty for a local launch.
	CDPURL string
}

func (BrowserStartEvent) EventType() string { return TypeBrowserStart }

// BrowserConnectedEvent is the point at which watchdogs install their
// page-level listeners.
type BrowserConnectedEvent struct {
	// CDPURL is the endpoint the session connected to.
	CDPURL string
}

func (BrowserConnectedEvent) EventType() string { return TypeBrowserConnected }

// BrowserStopEvent is dispatched when teardown begins.
type BrowserStopEvent struct {
	// Force is set for kills, which ignore outstanding claims.
	Force bool
}

func (BrowserStopEvent) EventType() string { return TypeBrowserStop }

// BrowserStoppedEvent is dispatched after the connection is closed.
type BrowserStoppedEvent struct {
	Reason string
}

func (BrowserStoppedEvent) EventType() string { return TypeBrowserStopped }

// BrowserErrorEvent carries a classified failure. Watchdogs report through
// this event instead of returning errors.
type BrowserErrorEvent struct {
	// ErrorType is the classification tag.
	ErrorType ErrorType

	// Message is a human-readable description.
	Message string

	// Details holds diagnostic context such as the target id or request url.
	Details map[string]any

	// OccurredAt is when the failure was observed.
	OccurredAt time.Time
}

func (BrowserErrorEvent) EventType() string { return TypeBrowserError }

// TargetCrashedEvent reports a renderer crash.
type TargetCrashedEvent struct {
	TargetID string
	Error    string
}

func (TargetCrashedEvent) EventType() string { return TypeTargetCrashed }

// TabCreatedEvent is dispatched when a tab enters the session's tab table.
type TabCreatedEvent struct {
	TabID    string
	TargetID string
	URL      string
}

func (TabCreatedEvent) EventType() string { return TypeTabCreated }

// TabClosedEvent is dispatched when a tab leaves the session's tab table.
type TabClosedEvent struct {
	TabID    string
	TargetID string
}

func (TabClosedEvent) EventType() string { return TypeTabClosed }

// AgentFocusChangedEvent is dispatched when the session's focused tab changes.
type AgentFocusChangedEvent struct {
	TabID    string
	TargetID string
	URL      string
}

func (AgentFocusChangedEvent) EventType() string { return TypeAgentFocusChanged }

// NavigationCompleteEvent is dispatched after a navigation settles.
type NavigationCompleteEvent struct {
	TabID    string
	TargetID string
	URL      string

	// Status is the HTTP status of the main document, zero when unknown.
	Status int
}

func (NavigationCompleteEvent) EventType() string { return TypeNavigationComplete }

// AgentClaimedEvent is dispatched after a successful claim.
type AgentClaimedEvent struct {
	AgentID string
	Mode    string
}

func (AgentClaimedEvent) EventType() string { return TypeAgentClaimed }

// AgentReleasedEvent is dispatched after a successful release.
type AgentReleasedEvent struct {
	AgentID string
	Mode    string
}

func (AgentReleasedEvent) EventType() string { return TypeAgentReleased }

// New wraps payload in a bus event whose type comes from the payload.
func New(payload eventbus.Typed) *eventbus.Event {
	return &eventbus.Event{
		Type:      payload.EventType(),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// NewBrowserError creates a BrowserErrorEvent stamped with the current time.
func NewBrowserError(errorType ErrorType, message string, details map[string]any) *eventbus.Event {
	if details == nil {
		details = make(map[string]any)
	}
	return New(BrowserErrorEvent{
		ErrorType:  errorType,
		Message:    message,
		Details:    details,
		OccurredAt: time.Now(),
	})
}

// NewTargetCrashed creates a TargetCrashedEvent.
func NewTargetCrashed(targetID, message string) *eventbus.Event {
	return New(TargetCrashedEvent{TargetID: targetID, Error: message})
}
