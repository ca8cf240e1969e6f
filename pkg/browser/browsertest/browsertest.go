// Package browsertest provides in-memory fakes of the browser driver
// interfaces for tests that exercise sessions and watchdogs without a
// real browser.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/playwright-community/playwright-go"
)

// ListenerCall records one On or RemoveListener call.
type ListenerCall struct {
	Event   string
	Handler uintptr
}

// Page is a fake browser.Page. Its zero value is not usable; use NewPage.
type Page struct {
	mu        sync.Mutex
	url       string
	title     string
	content   string
	history   []string
	closed    bool
	listeners map[string][]interface{}

	// Routes maps a url to the document served for it by Goto.
	Routes map[string]string

	// EvaluateFunc answers Evaluate. Without it Evaluate returns nil.
	EvaluateFunc func(expression string, args ...interface{}) (interface{}, error)

	GotoErr    error
	TitleErr   error
	ContentErr error
	ClickErr   error
	FillErr    error

	Added   []ListenerCall
	Removed []ListenerCall
	Clicks  []string
	Fills   map[string]string
}

// NewPage creates an open page showing url.
func NewPage(url string) *Page {
	return &Page{
		url:       url,
		listeners: make(map[string][]interface{}),
		Routes:    make(map[string]string),
		Fills:     make(map[string]string),
	}
}

// SetContent sets the document and title the page reports.
func (p *Page) SetContent(title, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = title
	p.content = content
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, p.TitleErr
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content, p.ContentErr
}

func (p *Page) Goto(url string, _ ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.GotoErr != nil {
		return nil, p.GotoErr
	}
	p.history = append(p.history, p.url)
	p.url = url
	if doc, ok := p.Routes[url]; ok {
		p.content = doc
	}
	return nil, nil
}

func (p *Page) GoBack(_ ...playwright.PageGoBackOptions) (playwright.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) == 0 {
		return nil, nil
	}
	p.url = p.history[len(p.history)-1]
	p.history = p.history[:len(p.history)-1]
	if doc, ok := p.Routes[p.url]; ok {
		p.content = doc
	}
	return nil, nil
}

func (p *Page) Evaluate(expression string, args ...interface{}) (interface{}, error) {
	p.mu.Lock()
	fn := p.EvaluateFunc
	p.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(expression, args...)
}

// SetEvaluate replaces EvaluateFunc under the page lock.
func (p *Page) SetEvaluate(fn func(expression string, args ...interface{}) (interface{}, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EvaluateFunc = fn
}

func (p *Page) Click(selector string, _ ...playwright.PageClickOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ClickErr != nil {
		return p.ClickErr
	}
	p.Clicks = append(p.Clicks, selector)
	return nil
}

func (p *Page) Fill(selector, value string, _ ...playwright.PageFillOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FillErr != nil {
		return p.FillErr
	}
	p.Fills[selector] = value
	return nil
}

func (p *Page) BringToFront() error { return nil }

// Close marks the page closed and emits its "close" event.
func (p *Page) Close(_ ...playwright.PageCloseOptions) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.Emit("close", p)
	return nil
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) On(name string, handler interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners[name] = append(p.listeners[name], handler)
	p.Added = append(p.Added, ListenerCall{Event: name, Handler: reflect.ValueOf(handler).Pointer()})
}

// RemoveListener removes listeners matching handler by function identity,
// the way playwright does.
func (p *Page) RemoveListener(name string, handler interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ptr := reflect.ValueOf(handler).Pointer()
	p.Removed = append(p.Removed, ListenerCall{Event: name, Handler: ptr})
	kept := p.listeners[name][:0]
	for _, h := range p.listeners[name] {
		if reflect.ValueOf(h).Pointer() != ptr {
			kept = append(kept, h)
		}
	}
	p.listeners[name] = kept
}

// ListenerCount returns the number of listeners for an event.
func (p *Page) ListenerCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners[name])
}

// AddedFor returns the On calls recorded for an event.
func (p *Page) AddedFor(name string) []ListenerCall {
	return p.calls(name, true)
}

// RemovedFor returns the RemoveListener calls recorded for an event.
func (p *Page) RemovedFor(name string) []ListenerCall {
	return p.calls(name, false)
}

func (p *Page) calls(name string, added bool) []ListenerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	src := p.Removed
	if added {
		src = p.Added
	}
	var out []ListenerCall
	for _, c := range src {
		if c.Event == name {
			out = append(out, c)
		}
	}
	return out
}

// Emit calls every listener of an event synchronously, passing as many of
// payload as each listener accepts.
func (p *Page) Emit(name string, payload ...interface{}) {
	p.mu.Lock()
	handlers := append([]interface{}(nil), p.listeners[name]...)
	p.mu.Unlock()

	for _, h := range handlers {
		fn := reflect.ValueOf(h)
		n := fn.Type().NumIn()
		args := make([]reflect.Value, 0, n)
		for i := 0; i < n; i++ {
			if i < len(payload) && payload[i] != nil {
				args = append(args, reflect.ValueOf(payload[i]))
			} else {
				args = append(args, reflect.Zero(fn.Type().In(i)))
			}
		}
		fn.Call(args)
	}
}

// Request is a fake network request payload.
type Request struct {
	RequestURL    string
	RequestMethod string
}

func (r *Request) URL() string    { return r.RequestURL }
func (r *Request) Method() string { return r.RequestMethod }

// Command is one DevTools command sent through a fake CDP session.
type Command struct {
	Method string
	Params map[string]interface{}
}

// Connection is a fake browser.Connection.
type Connection struct {
	mu        sync.Mutex
	pages     []*Page
	onPage    []func(browser.Page)
	connected bool
	targets   map[*Page]string

	// NewPageErr fails NewPage.
	NewPageErr error

	// CDPErr fails opening page-level DevTools sessions.
	CDPErr error

	// BrowserCommandErr fails every command sent on browser-level sessions.
	BrowserCommandErr error

	// GrantErr fails context-level GrantPermissions.
	GrantErr error

	Granted  [][]string
	Commands []Command
	Closed   int
	endpoint string
}

// NewConnection creates a connected fake holding pages.
func NewConnection(pages ...*Page) *Connection {
	return &Connection{
		pages:     pages,
		connected: true,
		targets:   make(map[*Page]string),
		endpoint:  "ws://127.0.0.1:9222/devtools/browser/fake",
	}
}

// SetTargetID fixes the target id reported for page.
func (c *Connection) SetTargetID(p *Page, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[p] = id
}

func (c *Connection) targetID(p *Page) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.targets[p]; ok {
		return id
	}
	id := fmt.Sprintf("T%d", len(c.targets)+1)
	c.targets[p] = id
	return id
}

func (c *Connection) Pages() []browser.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]browser.Page, 0, len(c.pages))
	for _, p := range c.pages {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

// FakePages returns every page the connection has created or was given.
func (c *Connection) FakePages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Page(nil), c.pages...)
}

func (c *Connection) NewPage() (browser.Page, error) {
	c.mu.Lock()
	if c.NewPageErr != nil {
		c.mu.Unlock()
		return nil, c.NewPageErr
	}
	p := NewPage("about:blank")
	c.pages = append(c.pages, p)
	c.mu.Unlock()
	return p, nil
}

// OpenPopup simulates the browser opening a page on its own.
func (c *Connection) OpenPopup(url string) *Page {
	p := NewPage(url)
	c.mu.Lock()
	c.pages = append(c.pages, p)
	handlers := append([]func(browser.Page){}, c.onPage...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(p)
	}
	return p
}

func (c *Connection) OnPage(fn func(browser.Page)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPage = append(c.onPage, fn)
}

func (c *Connection) GrantPermissions(permissions []string, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GrantErr != nil {
		return c.GrantErr
	}
	c.Granted = append(c.Granted, append([]string(nil), permissions...))
	return nil
}

func (c *Connection) NewCDPSession(page browser.Page) (browser.CDPSession, error) {
	if c.CDPErr != nil {
		return nil, c.CDPErr
	}
	p, ok := page.(*Page)
	if !ok {
		return nil, errors.New("browsertest: foreign page")
	}
	return &CDPSession{conn: c, page: p}, nil
}

func (c *Connection) NewBrowserCDPSession() (browser.CDPSession, error) {
	return &CDPSession{conn: c}, nil
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect simulates the browser process going away.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.Closed++
	return nil
}

func (c *Connection) Endpoint() string { return c.endpoint }

// SentCommands returns the DevTools commands sent so far.
func (c *Connection) SentCommands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Command(nil), c.Commands...)
}

// GrantedPermissions returns the context-level grants made so far.
func (c *Connection) GrantedPermissions() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.Granted...)
}

// CDPSession is a fake DevTools channel.
type CDPSession struct {
	conn *Connection
	page *Page
}

func (s *CDPSession) Send(method string, params map[string]interface{}) (interface{}, error) {
	s.conn.mu.Lock()
	s.conn.Commands = append(s.conn.Commands, Command{Method: method, Params: params})
	browserErr := s.conn.BrowserCommandErr
	s.conn.mu.Unlock()

	if s.page == nil {
		if browserErr != nil {
			return nil, browserErr
		}
		return map[string]interface{}{}, nil
	}
	if method == "Target.getTargetInfo" {
		return map[string]interface{}{
			"targetInfo": map[string]interface{}{"targetId": s.conn.targetID(s.page)},
		}, nil
	}
	return map[string]interface{}{}, nil
}

func (s *CDPSession) Detach() error { return nil }

// Driver is a fake browser.Driver handing out queued connections.
type Driver struct {
	mu    sync.Mutex
	queue []*Connection

	// ConnectErr fails Connect.
	ConnectErr error

	Connects int
	Profiles []config.BrowserProfile
}

// NewDriver creates a driver that returns conns in order and then fresh
// single-page connections.
func NewDriver(conns ...*Connection) *Driver {
	return &Driver{queue: conns}
}

func (d *Driver) Connect(ctx context.Context, profile config.BrowserProfile) (browser.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.Connects++
	d.Profiles = append(d.Profiles, profile)
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	if len(d.queue) > 0 {
		c := d.queue[0]
		d.queue = d.queue[1:]
		return c, nil
	}
	return NewConnection(NewPage("about:blank")), nil
}

// ConnectCount returns how many times Connect was called.
func (d *Driver) ConnectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Connects
}
