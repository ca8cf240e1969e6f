package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/eventbus"
	"github.com/entrhq/browseruse/pkg/events"
)

// request is the part of a playwright request the watchdog reads.
type request interface {
	URL() string
	Method() string
}

type pendingRequest struct {
	url     string
	method  string
	started time.Time
}

type networkListeners struct {
	targetID string
	onStart  func(interface{})
	onDone   func(interface{})
	pending  map[interface{}]*pendingRequest
}

// NetworkWatchdog reports requests that stay in flight longer than the
// configured timeout.
type NetworkWatchdog struct {
	base
	timeout time.Duration
	sweep   time.Duration
	now     func() time.Time

	pagesMu sync.Mutex
	pages   map[browser.Page]*networkListeners
	cancel  context.CancelFunc
}

// NetworkOption configures a NetworkWatchdog.
type NetworkOption func(*NetworkWatchdog)

// WithClock replaces the clock used to age requests.
func WithClock(now func() time.Time) NetworkOption {
	return func(w *NetworkWatchdog) {
		w.now = now
	}
}

// NewNetworkWatchdog creates a network watchdog. A non-positive sweep
// interval disables the background sweep; Sweep still works.
func NewNetworkWatchdog(cfg config.NetworkWatchdogSettings, opts ...NetworkOption) *NetworkWatchdog {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	w := &NetworkWatchdog{
		base:    newBase("network"),
		timeout: timeout,
		sweep:   cfg.SweepInterval,
		now:     time.Now,
		pages:   make(map[browser.Page]*networkListeners),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *NetworkWatchdog) OnAttach(s *browser.Session) error {
	return w.attach(s,
		subscription{events.TypeBrowserConnected, w.onConnected},
		subscription{events.TypeTabCreated, w.onTabCreated},
		subscription{events.TypeTabClosed, w.onTabClosed},
		subscription{events.TypeBrowserStopped, w.onStopped},
	)
}

func (w *NetworkWatchdog) OnDetach(_ *browser.Session) error {
	w.reset()
	w.detach()
	return nil
}

func (w *NetworkWatchdog) onConnected(_ context.Context, _ *eventbus.Event) (any, error) {
	s := w.currentSession()
	if s == nil {
		return nil, nil
	}
	for _, p := range s.Pages() {
		w.watchPage(s, p)
	}
	w.setState(StateMonitoring)

	if w.sweep > 0 {
		loopCtx, cancel := context.WithCancel(context.Background())
		w.pagesMu.Lock()
		if w.cancel != nil {
			w.cancel()
		}
		w.cancel = cancel
		w.pagesMu.Unlock()
		go w.loop(loopCtx)
	}
	return nil, nil
}

func (w *NetworkWatchdog) onTabCreated(_ context.Context, ev *eventbus.Event) (any, error) {
	if w.State() != StateMonitoring {
		return nil, nil
	}
	s := w.currentSession()
	if s == nil {
		return nil, nil
	}
	created, _ := eventbus.PayloadAs[events.TabCreatedEvent](ev)
	for _, p := range s.Pages() {
		if id, ok := s.TargetIDForPage(p); ok && id == created.TargetID {
			w.watchPage(s, p)
		}
	}
	return nil, nil
}

func (w *NetworkWatchdog) onTabClosed(_ context.Context, ev *eventbus.Event) (any, error) {
	closed, ok := eventbus.PayloadAs[events.TabClosedEvent](ev)
	if !ok {
		return nil, nil
	}
	w.pagesMu.Lock()
	defer w.pagesMu.Unlock()
	for p, l := range w.pages {
		if l.targetID == closed.TargetID {
			w.unwatchLocked(p, l)
			delete(w.pages, p)
		}
	}
	return nil, nil
}

func (w *NetworkWatchdog) onStopped(_ context.Context, _ *eventbus.Event) (any, error) {
	w.reset()
	if w.State() == StateMonitoring {
		w.setState(StateIdle)
	}
	return nil, nil
}

func (w *NetworkWatchdog) reset() {
	w.pagesMu.Lock()
	defer w.pagesMu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	for p, l := range w.pages {
		w.unwatchLocked(p, l)
	}
	w.pages = make(map[browser.Page]*networkListeners)
}

func (w *NetworkWatchdog) unwatchLocked(p browser.Page, l *networkListeners) {
	p.RemoveListener("request", l.onStart)
	p.RemoveListener("requestfinished", l.onDone)
	p.RemoveListener("requestfailed", l.onDone)
}

func (w *NetworkWatchdog) watchPage(s *browser.Session, p browser.Page) {
	targetID, _ := s.TargetIDForPage(p)

	w.pagesMu.Lock()
	defer w.pagesMu.Unlock()
	if _, ok := w.pages[p]; ok {
		return
	}
	l := &networkListeners{targetID: targetID, pending: make(map[interface{}]*pendingRequest)}
	l.onStart = func(payload interface{}) {
		w.guard("request handler", func() { w.started(l, payload) })
	}
	l.onDone = func(payload interface{}) {
		w.guard("request handler", func() { w.finished(l, payload) })
	}
	p.On("request", l.onStart)
	p.On("requestfinished", l.onDone)
	p.On("requestfailed", l.onDone)
	w.pages[p] = l
}

func (w *NetworkWatchdog) started(l *networkListeners, payload interface{}) {
	req, ok := payload.(request)
	if !ok {
		return
	}
	w.pagesMu.Lock()
	defer w.pagesMu.Unlock()
	l.pending[payload] = &pendingRequest{url: req.URL(), method: req.Method(), started: w.now()}
}

func (w *NetworkWatchdog) finished(l *networkListeners, payload interface{}) {
	w.pagesMu.Lock()
	defer w.pagesMu.Unlock()
	delete(l.pending, payload)
}

// Pending returns the number of requests currently in flight.
func (w *NetworkWatchdog) Pending() int {
	w.pagesMu.Lock()
	defer w.pagesMu.Unlock()
	n := 0
	for _, l := range w.pages {
		n += len(l.pending)
	}
	return n
}

func (w *NetworkWatchdog) loop(ctx context.Context) {
	ticker := time.NewTicker(w.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.guard("network sweep", func() { w.Sweep(ctx) })
		}
	}
}

type staleRequest struct {
	targetID string
	req      pendingRequest
	age      time.Duration
}

// Sweep reports every request pending longer than the timeout and stops
// tracking it, so a request is reported at most once.
func (w *NetworkWatchdog) Sweep(ctx context.Context) {
	s := w.currentSession()
	if s == nil {
		return
	}

	now := w.now()
	var stale []staleRequest
	w.pagesMu.Lock()
	for _, l := range w.pages {
		for key, pr := range l.pending {
			age := now.Sub(pr.started)
			if age <= w.timeout {
				continue
			}
			delete(l.pending, key)
			stale = append(stale, staleRequest{targetID: l.targetID, req: *pr, age: age})
		}
	}
	w.pagesMu.Unlock()

	for _, st := range stale {
		w.logger.Warnf("Request %s %s pending for %s", st.req.method, st.req.url, st.age)
		w.report(ctx, s, events.NewBrowserError(events.ErrorNetworkTimeout,
			"request exceeded "+w.timeout.String(), map[string]any{
				"url":        st.req.url,
				"method":     st.req.method,
				"target_id":  st.targetID,
				"pending_ms": st.age.Milliseconds(),
			}))
	}
}
