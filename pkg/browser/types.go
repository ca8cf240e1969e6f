package browser

import (
	"fmt"
	"time"

	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/events"
)

// ClaimMode is how an agent holds a session.
type ClaimMode string

const (
	// ClaimExclusive gives one agent sole use of the session.
	ClaimExclusive ClaimMode = config.ClaimExclusive

	// ClaimShared lets several cooperating agents use the session.
	ClaimShared ClaimMode = config.ClaimShared
)

// ParseClaimMode converts a configured claim mode.
func ParseClaimMode(s string) (ClaimMode, error) {
	switch ClaimMode(s) {
	case ClaimExclusive, ClaimShared:
		return ClaimMode(s), nil
	case "":
		return ClaimExclusive, nil
	}
	return "", fmt.Errorf("unknown claim mode %q", s)
}

// TabInfo describes one entry of the session's tab table.
type TabInfo struct {
	// TabID is stable for the lifetime of the tab.
	TabID string

	// TargetID is the browser's identifier for the page's target.
	TargetID string

	URL   string
	Title string
}

// DOMElement is an interactive element the agent can address by index.
type DOMElement struct {
	Index      int
	Tag        string
	XPath      string
	Attributes map[string]string
	Text       string
}

// Selector returns a playwright selector for the element.
func (e DOMElement) Selector() string {
	return "xpath=" + e.XPath
}

// BrowserState is a point-in-time snapshot of the focused tab.
type BrowserState struct {
	URL   string
	Title string
	Tabs  []TabInfo

	// FocusedTabID is the tab the snapshot was taken from.
	FocusedTabID string

	// PixelsAbove and PixelsBelow are the scrollable distances outside the
	// viewport.
	PixelsAbove int
	PixelsBelow int

	// Errors are the browser errors accumulated by the session.
	Errors []events.BrowserErrorEvent

	// Loading is true while the document has not finished loading.
	Loading bool

	// SelectorMap maps element indices to interactive elements.
	SelectorMap map[int]DOMElement

	// ElementsText is the indexed element listing shown to the model.
	ElementsText string

	CapturedAt time.Time
}

// Element looks up an element by index.
func (s *BrowserState) Element(index int) (DOMElement, bool) {
	if s == nil {
		return DOMElement{}, false
	}
	el, ok := s.SelectorMap[index]
	return el, ok
}
