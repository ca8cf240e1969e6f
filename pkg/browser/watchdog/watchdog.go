// Package watchdog contains the observers that keep a browser session
// healthy: crash and responsiveness monitoring, stalled-request detection,
// and permission granting on connect.
//
// Watchdogs only talk to the session through its event bus. Every failure
// they observe or cause is reported as a BrowserErrorEvent; none of them
// returns an error into the session's start or stop path.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/eventbus"
	"github.com/entrhq/browseruse/pkg/logging"
)

// State is the lifecycle position of a watchdog.
type State string

const (
	StateUnattached State = "unattached" // StateUnattached means OnAttach has not run.
	StateIdle       State = "attached"   // StateIdle means subscribed but the session is not connected.
	StateMonitoring State = "monitoring" // StateMonitoring means page listeners are installed.
	StateDetached   State = "detached"   // StateDetached means OnDetach has run.
)

type subscription struct {
	eventType string
	handler   eventbus.Handler
}

// base tracks bus subscriptions and lifecycle state shared by all watchdogs.
type base struct {
	name string

	mu      sync.Mutex
	state   State
	session *browser.Session
	unsubs  []func()
	logger  *logging.Logger
}

func newBase(name string) base {
	return base{name: name, state: StateUnattached, logger: logging.Nop()}
}

// Name returns the watchdog name.
func (b *base) Name() string { return b.name }

// State returns the current lifecycle state.
func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) setState(st State) {
	b.mu.Lock()
	b.state = st
	b.mu.Unlock()
}

// attach subscribes subs on the session bus. Nothing stays subscribed if
// any registration fails.
func (b *base) attach(s *browser.Session, subs ...subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		return fmt.Errorf("watchdog %s: already attached", b.name)
	}

	var unsubs []func()
	for _, sub := range subs {
		id := fmt.Sprintf("%s:%s:%s", b.name, sub.eventType, s.ID())
		off, err := s.Bus().On(sub.eventType, sub.handler, eventbus.WithHandlerID(id))
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return fmt.Errorf("watchdog %s: subscribe %s: %w", b.name, sub.eventType, err)
		}
		unsubs = append(unsubs, off)
	}

	b.session = s
	b.unsubs = unsubs
	b.logger = s.Logger().With("watchdog." + b.name)
	b.state = StateIdle
	return nil
}

// detach drops every subscription. It is safe to call repeatedly.
func (b *base) detach() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.session = nil
	b.state = StateDetached
	b.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

func (b *base) currentSession() *browser.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// report publishes ev on the session bus. The caller's dispatch context is
// kept for parent linking but not for cancellation.
func (b *base) report(ctx context.Context, s *browser.Session, ev *eventbus.Event) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.Bus().Dispatch(context.WithoutCancel(ctx), ev); err != nil {
		b.logger.Warnf("Failed to report %s: %v", ev.Type, err)
	}
}

// guard runs fn, converting a panic into a log entry. Page callbacks run on
// driver goroutines where a panic would take down the process.
func (b *base) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("%s panicked: %v", what, r)
		}
	}()
	fn()
}

// AttachDefaults attaches the watchdogs enabled in cfg to s.
func AttachDefaults(s *browser.Session, cfg config.WatchdogSettings) error {
	var errs []error
	if cfg.Crash.Enabled {
		errs = append(errs, s.AttachWatchdog(NewCrashWatchdog(cfg.Crash)))
	}
	if cfg.Network.Enabled {
		errs = append(errs, s.AttachWatchdog(NewNetworkWatchdog(cfg.Network)))
	}
	if cfg.Permissions.Enabled {
		errs = append(errs, s.AttachWatchdog(NewPermissionsWatchdog()))
	}
	return errors.Join(errs...)
}
