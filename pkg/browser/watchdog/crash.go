package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/eventbus"
	"github.com/entrhq/browseruse/pkg/events"
)

const crashEvent = "crash"

// errHealthTimeout marks a health probe that did not answer in time.
var errHealthTimeout = errors.New("health check timed out")

type crashListener struct {
	targetID string
	handler  func(interface{})
}

type pageHealth struct {
	failures int
	reported bool
}

// CrashWatchdog reports renderer crashes and pages that stop answering
// health probes.
type CrashWatchdog struct {
	base
	interval  time.Duration
	timeout   time.Duration
	threshold int

	pagesMu   sync.Mutex
	listeners map[browser.Page]*crashListener
	health    map[browser.Page]*pageHealth
	cancel    context.CancelFunc
}

// NewCrashWatchdog creates a crash watchdog. A non-positive health check
// interval disables the background probe loop; CheckNow still works.
func NewCrashWatchdog(cfg config.CrashWatchdogSettings) *CrashWatchdog {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	timeout := cfg.HealthCheckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CrashWatchdog{
		base:      newBase("crash"),
		interval:  cfg.HealthCheckInterval,
		timeout:   timeout,
		threshold: threshold,
		listeners: make(map[browser.Page]*crashListener),
		health:    make(map[browser.Page]*pageHealth),
	}
}

func (w *CrashWatchdog) OnAttach(s *browser.Session) error {
	return w.attach(s,
		subscription{events.TypeBrowserConnected, w.onConnected},
		subscription{events.TypeTabCreated, w.onTabCreated},
		subscription{events.TypeTabClosed, w.onTabClosed},
		subscription{events.TypeBrowserStopped, w.onStopped},
	)
}

func (w *CrashWatchdog) OnDetach(_ *browser.Session) error {
	w.reset()
	w.detach()
	return nil
}

func (w *CrashWatchdog) onConnected(ctx context.Context, _ *eventbus.Event) (any, error) {
	s := w.currentSession()
	if s == nil {
		return nil, nil
	}
	for _, p := range s.Pages() {
		w.watchPage(s, p)
	}
	w.setState(StateMonitoring)

	if w.interval > 0 {
		loopCtx, cancel := context.WithCancel(context.Background())
		w.pagesMu.Lock()
		if w.cancel != nil {
			w.cancel()
		}
		w.cancel = cancel
		w.pagesMu.Unlock()
		go w.loop(loopCtx)
	}
	w.logger.Debugf("Monitoring %d page(s) for crashes", len(s.Pages()))
	return nil, nil
}

func (w *CrashWatchdog) onTabCreated(_ context.Context, ev *eventbus.Event) (any, error) {
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

func (w *CrashWatchdog) onTabClosed(_ context.Context, ev *eventbus.Event) (any, error) {
	closed, ok := eventbus.PayloadAs[events.TabClosedEvent](ev)
	if !ok {
		return nil, nil
	}
	w.pagesMu.Lock()
	defer w.pagesMu.Unlock()
	for p, l := range w.listeners {
		if l.targetID == closed.TargetID {
			p.RemoveListener(crashEvent, l.handler)
			delete(w.listeners, p)
			delete(w.health, p)
		}
	}
	return nil, nil
}

// onStopped removes every page listener, whatever state the watchdog
// believes it is in.
func (w *CrashWatchdog) onStopped(_ context.Context, _ *eventbus.Event) (any, error) {
	w.reset()
	if w.State() == StateMonitoring {
		w.setState(StateIdle)
	}
	return nil, nil
}

func (w *CrashWatchdog) reset() {
	w.pagesMu.Lock()
	defer w.pagesMu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	for p, l := range w.listeners {
		p.RemoveListener(crashEvent, l.handler)
	}
	w.listeners = make(map[browser.Page]*crashListener)
	w.health = make(map[browser.Page]*pageHealth)
}

func (w *CrashWatchdog) watchPage(s *browser.Session, p browser.Page) {
	targetID, _ := s.TargetIDForPage(p)

	w.pagesMu.Lock()
	defer w.pagesMu.Unlock()
	if _, ok := w.listeners[p]; ok {
		return
	}
	l := &crashListener{targetID: targetID}
	l.handler = func(payload interface{}) {
		w.guard("crash handler", func() { w.handleCrash(p, l.targetID, payload) })
	}
	p.On(crashEvent, l.handler)
	w.listeners[p] = l
	w.health[p] = &pageHealth{}
}

// WatchedPages returns the number of pages carrying a crash listener.
func (w *CrashWatchdog) WatchedPages() int {
	w.pagesMu.Lock()
	defer w.pagesMu.Unlock()
	return len(w.listeners)
}

func (w *CrashWatchdog) handleCrash(p browser.Page, targetID string, payload interface{}) {
	s := w.currentSession()
	if s == nil {
		return
	}
	if id, ok := s.TargetIDForPage(p); ok {
		targetID = id
	}
	msg := crashMessage(payload)
	w.logger.Errorf("Target %s crashed: %s", targetID, msg)

	ctx := context.Background()
	w.report(ctx, s, events.NewTargetCrashed(targetID, msg))
	w.report(ctx, s, events.NewBrowserError(events.ErrorTargetCrash, msg, map[string]any{
		"target_id": targetID,
	}))
}

func crashMessage(payload interface{}) string {
	switch v := payload.(type) {
	case error:
		if v != nil && v.Error() != "" {
			return v.Error()
		}
	case string:
		if v != "" {
			return v
		}
	}
	return "Target crashed"
}

func (w *CrashWatchdog) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.guard("health check", func() { w.CheckNow(ctx) })
		}
	}
}

// CheckNow probes every watched page once and reports pages whose
// consecutive failures reach the threshold. Each unresponsive page is
// reported once until it answers again.
func (w *CrashWatchdog) CheckNow(ctx context.Context) {
	s := w.currentSession()
	if s == nil {
		return
	}

	w.pagesMu.Lock()
	pages := make([]browser.Page, 0, len(w.listeners))
	for p := range w.listeners {
		pages = append(pages, p)
	}
	w.pagesMu.Unlock()

	for _, p := range pages {
		if ctx.Err() != nil {
			return
		}
		err := w.probe(ctx, p)

		w.pagesMu.Lock()
		h, ok := w.health[p]
		if !ok {
			w.pagesMu.Unlock()
			continue
		}
		if err == nil {
			h.failures = 0
			h.reported = false
			w.pagesMu.Unlock()
			continue
		}
		h.failures++
		failures := h.failures
		fire := failures >= w.threshold && !h.reported
		if fire {
			h.reported = true
		}
		targetID := w.listeners[p].targetID
		w.pagesMu.Unlock()

		w.logger.Debugf("Health check failed for %s (%d/%d): %v", targetID, failures, w.threshold, err)
		if fire {
			w.report(ctx, s, events.NewBrowserError(events.ErrorTargetUnresponsive,
				"page stopped responding to health checks", map[string]any{
					"target_id": targetID,
					"failures":  failures,
					"error":     err.Error(),
				}))
		}
	}
}

func (w *CrashWatchdog) probe(ctx context.Context, p browser.Page) error {
	if p.IsClosed() {
		return errors.New("page closed")
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("health probe panicked: %v", r)
			}
		}()
		_, err := p.Evaluate("() => 1")
		done <- err
	}()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errHealthTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
