// Package browser owns the long-lived browser connection an agent drives:
// the tab table, the session's event bus, attached watchdogs, the claim
// protocol for sharing one browser between agents, and state snapshots.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/eventbus"
	"github.com/entrhq/browseruse/pkg/events"
	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Watchdog observes a session through its event bus. OnAttach subscribes
// handlers; OnDetach removes them and any listeners installed on pages.
// Both must be safe to call when the other has not run.
type Watchdog interface {
	Name() string
	OnAttach(s *Session) error
	OnDetach(s *Session) error
}

type attachedWatchdog struct {
	w        Watchdog
	attached bool
}

type tab struct {
	id       string
	targetID string
	title    string
	page     Page
	onClose  func(interface{})
}

func (t *tab) info() TabInfo {
	return TabInfo{TabID: t.id, TargetID: t.targetID, URL: t.page.URL(), Title: t.title}
}

// Session is one browser connection shared by the agents that claim it.
type Session struct {
	id       string
	profile  config.BrowserProfile
	driver   Driver
	bus      *eventbus.Bus
	logger   *logging.Logger
	autoStop bool

	// lifecycle serializes Start and teardown.
	lifecycle sync.Mutex

	// stepLock serializes state captures across agents sharing the session.
	stepLock *semaphore.Weighted

	wdMu      sync.Mutex
	watchdogs []*attachedWatchdog

	mu         sync.RWMutex
	conn       Connection
	tabs       []*tab
	focused    string
	nextTab    int
	claims     map[string]ClaimMode
	agentFocus map[string]string
	states     map[string]*BrowserState
	errs       []events.BrowserErrorEvent
}

// Option configures a Session.
type Option func(*Session)

// WithBus binds the session to an existing bus instead of a new one.
func WithBus(bus *eventbus.Bus) Option {
	return func(s *Session) {
		s.bus = bus
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithID sets the session id. A random id is used otherwise.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// WithAutoStopOnRelease controls whether the session stops itself when
// the last shared claimant releases. Enabled by default.
func WithAutoStopOnRelease(enabled bool) Option {
	return func(s *Session) {
		s.autoStop = enabled
	}
}

// NewSession creates an unconnected session.
func NewSession(profile config.BrowserProfile, driver Driver, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		profile:    profile,
		driver:     driver,
		autoStop:   true,
		stepLock:   semaphore.NewWeighted(1),
		claims:     make(map[string]ClaimMode),
		agentFocus: make(map[string]string),
		states:     make(map[string]*BrowserState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.MustLogger("browser")
	}
	if s.bus == nil {
		s.bus = eventbus.New(eventbus.WithLogger(s.logger.With("eventbus")))
	}

	_, err := s.bus.On(events.TypeBrowserError, s.recordError,
		eventbus.WithHandlerID("session:"+s.id+":errors"))
	if err != nil {
		s.logger.Warnf("Failed to subscribe error recorder: %v", err)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Bus returns the session's event bus.
func (s *Session) Bus() *eventbus.Bus { return s.bus }

// Profile returns the browser profile the session connects with.
func (s *Session) Profile() config.BrowserProfile { return s.profile }

// Logger returns the session logger.
func (s *Session) Logger() *logging.Logger { return s.logger }

// IsConnected reports whether the session holds a live connection.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	return conn != nil && conn.IsConnected()
}

// Connection returns the live connection.
func (s *Session) Connection() (Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// AttachWatchdog attaches w to the session. Watchdogs attached before
// Start see the connected event; later ones only see the next reconnect.
func (s *Session) AttachWatchdog(w Watchdog) error {
	s.wdMu.Lock()
	defer s.wdMu.Unlock()

	for _, existing := range s.watchdogs {
		if existing.w.Name() == w.Name() {
			return fmt.Errorf("browser: watchdog %q already attached", w.Name())
		}
	}
	if err := w.OnAttach(s); err != nil {
		return fmt.Errorf("browser: attach watchdog %s: %w", w.Name(), err)
	}
	s.watchdogs = append(s.watchdogs, &attachedWatchdog{w: w, attached: true})
	s.logger.Debugf("Attached watchdog %s to session %s", w.Name(), s.id)
	return nil
}

// Watchdogs lists the watchdogs bound to the session.
func (s *Session) Watchdogs() []Watchdog {
	s.wdMu.Lock()
	defer s.wdMu.Unlock()
	out := make([]Watchdog, 0, len(s.watchdogs))
	for _, aw := range s.watchdogs {
		out = append(out, aw.w)
	}
	return out
}

// reattachWatchdogs runs OnAttach for watchdogs detached by a previous stop.
func (s *Session) reattachWatchdogs() {
	s.wdMu.Lock()
	defer s.wdMu.Unlock()
	for _, aw := range s.watchdogs {
		if aw.attached {
			continue
		}
		if err := aw.w.OnAttach(s); err != nil {
			s.logger.Warnf("Failed to reattach watchdog %s: %v", aw.w.Name(), err)
			continue
		}
		aw.attached = true
	}
}

func (s *Session) detachWatchdogs() {
	s.wdMu.Lock()
	defer s.wdMu.Unlock()
	for _, aw := range s.watchdogs {
		if !aw.attached {
			continue
		}
		if err := aw.w.OnDetach(s); err != nil {
			s.logger.Warnf("Failed to detach watchdog %s: %v", aw.w.Name(), err)
		}
		aw.attached = false
	}
}

// Start connects the browser. It is a no-op while already connected.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.start(ctx)
}

func (s *Session) start(ctx context.Context) error {
	if s.IsConnected() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	stale := s.conn != nil
	s.mu.RUnlock()
	if stale {
		s.teardown(ctx, teardownOptions{force: true, reason: "connection lost", keepClaims: true})
	}

	s.reattachWatchdogs()
	s.emit(ctx, events.New(events.BrowserStartEvent{CDPURL: s.profile.CDPURL}))

	conn, err := s.driver.Connect(ctx, s.profile)
	if err != nil {
		s.emit(ctx, events.NewBrowserError(events.ErrorBrowserStart, err.Error(), map[string]any{
			"cdp_url": s.profile.CDPURL,
		}))
		return &BrowserError{Type: events.ErrorBrowserStart, Message: "failed to start browser", Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	conn.OnPage(func(p Page) {
		s.adoptPage(context.Background(), p)
	})

	pages := conn.Pages()
	if len(pages) == 0 {
		p, err := conn.NewPage()
		if err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			_ = conn.Close()
			return &BrowserError{Type: events.ErrorBrowserStart, Message: "failed to open initial tab", Err: err}
		}
		pages = []Page{p}
	}
	var first string
	for _, p := range pages {
		info, _ := s.adoptPage(ctx, p)
		if first == "" {
			first = info.TabID
		}
	}
	if _, ok := s.FocusedTab(); !ok && first != "" {
		s.focusTab(ctx, first)
	}

	s.logger.Infof("Session %s connected (endpoint=%q, tabs=%d)", s.id, conn.Endpoint(), len(pages))
	s.emit(ctx, events.New(events.BrowserConnectedEvent{CDPURL: conn.Endpoint()}))

	if s.profile.StartURL != "" {
		if err := s.Navigate(ctx, s.profile.StartURL); err != nil {
			s.logger.Warnf("Failed to open start url %s: %v", s.profile.StartURL, err)
		}
	}
	return nil
}

// Stop closes the browser. It refuses with ErrSessionInUse while any agent
// holds a claim; use Kill to tear down regardless.
func (s *Session) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	n := len(s.claims)
	s.mu.RUnlock()
	if n > 0 {
		return fmt.Errorf("%w by %d agent(s)", ErrSessionInUse, n)
	}
	s.teardown(ctx, teardownOptions{reason: "stopped"})
	return nil
}

// Kill closes the browser and drops every claim.
func (s *Session) Kill(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.teardown(ctx, teardownOptions{force: true, reason: "killed"})
	return nil
}

type teardownOptions struct {
	force      bool
	reason     string
	keepClaims bool
}

// teardown must be called with the lifecycle lock held. Cleanup handlers
// run even when ctx is already cancelled.
func (s *Session) teardown(ctx context.Context, opts teardownOptions) {
	ctx = context.WithoutCancel(ctx)

	s.mu.RLock()
	conn := s.conn
	tabs := append([]*tab(nil), s.tabs...)
	s.mu.RUnlock()

	if conn == nil {
		s.detachWatchdogs()
		return
	}

	s.emit(ctx, events.New(events.BrowserStopEvent{Force: opts.force}))

	for _, t := range tabs {
		t.page.RemoveListener("close", t.onClose)
		if !t.page.IsClosed() {
			_ = t.page.Close() // Ignore errors, continue cleanup
		}
	}
	if err := conn.Close(); err != nil {
		s.logger.Debugf("Closing connection for session %s: %v", s.id, err)
	}

	s.mu.Lock()
	s.conn = nil
	s.tabs = nil
	s.focused = ""
	s.agentFocus = make(map[string]string)
	s.states = make(map[string]*BrowserState)
	var released map[string]ClaimMode
	if !opts.keepClaims {
		released = s.claims
		s.claims = make(map[string]ClaimMode)
	}
	s.mu.Unlock()

	for agentID, mode := range released {
		s.emit(ctx, events.New(events.AgentReleasedEvent{AgentID: agentID, Mode: string(mode)}))
	}

	s.logger.Infof("Session %s stopped (%s)", s.id, opts.reason)
	s.emit(ctx, events.New(events.BrowserStoppedEvent{Reason: opts.reason}))
	s.detachWatchdogs()
}

// Errors returns the accumulated browser errors, oldest first.
func (s *Session) Errors() []events.BrowserErrorEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.BrowserErrorEvent(nil), s.errs...)
}

// ClearErrors drops the accumulated browser errors.
func (s *Session) ClearErrors() {
	s.mu.Lock()
	s.errs = nil
	s.mu.Unlock()
}

func (s *Session) recordError(_ context.Context, ev *eventbus.Event) (any, error) {
	payload, ok := eventbus.PayloadAs[events.BrowserErrorEvent](ev)
	if !ok {
		return nil, nil
	}
	s.logger.Warnf("Browser error %s: %s", payload.ErrorType, payload.Message)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, payload)
	if limit := s.profile.MaxErrors; limit > 0 && len(s.errs) > limit {
		s.errs = append([]events.BrowserErrorEvent(nil), s.errs[len(s.errs)-limit:]...)
	}
	return nil, nil
}

// emit dispatches ev on the session bus. Handler failures are logged; the
// session never fails an operation because an observer did.
func (s *Session) emit(ctx context.Context, ev *eventbus.Event) {
	result, err := s.bus.Dispatch(ctx, ev)
	if err == nil && result != nil {
		err = result.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debugf("Handlers for %s reported: %v", ev.Type, err)
	}
}
