package browser

import (
	"context"

	"github.com/entrhq/browseruse/pkg/config"
	"github.com/playwright-community/playwright-go"
)

// Page is the subset of playwright.Page a session and its watchdogs use.
// playwright.Page satisfies it directly.
type Page interface {
	URL() string
	Title() (string, error)
	Content() (string, error)
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	GoBack(options ...playwright.PageGoBackOptions) (playwright.Response, error)
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
	Click(selector string, options ...playwright.PageClickOptions) error
	Fill(selector, value string, options ...playwright.PageFillOptions) error
	BringToFront() error
	Close(options ...playwright.PageCloseOptions) error
	IsClosed() bool

	// On and RemoveListener manage native page events such as "crash",
	// "close" and "request". Handlers are matched by function identity.
	On(name string, handler interface{})
	RemoveListener(name string, handler interface{})
}

// CDPSession is a raw DevTools protocol channel. playwright.CDPSession
// satisfies it.
type CDPSession interface {
	Send(method string, params map[string]interface{}) (interface{}, error)
	Detach() error
}

// Connection is a live browser plus the context a session drives.
type Connection interface {
	// Pages lists the open pages of the context.
	Pages() []Page

	// NewPage opens a page in the context.
	NewPage() (Page, error)

	// OnPage registers fn for pages the browser opens on its own (popups,
	// target=_blank links).
	OnPage(fn func(Page))

	// GrantPermissions grants permissions at context level. An empty origin
	// applies them to every origin.
	GrantPermissions(permissions []string, origin string) error

	// NewCDPSession opens a DevTools channel attached to page.
	NewCDPSession(page Page) (CDPSession, error)

	// NewBrowserCDPSession opens a DevTools channel attached to the browser.
	NewBrowserCDPSession() (CDPSession, error)

	IsConnected() bool
	Close() error

	// Endpoint is the CDP url the connection was made over, empty when the
	// browser was launched locally.
	Endpoint() string
}

// Driver creates connections described by a browser profile.
type Driver interface {
	Connect(ctx context.Context, profile config.BrowserProfile) (Connection, error)
}
