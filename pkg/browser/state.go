package browser

import (
	"context"
	"fmt"
	"time"
)

// scrollScript reports scroll position and load state in one round-trip.
const scrollScript = `() => ({
	y: window.scrollY,
	viewport: window.innerHeight,
	height: document.documentElement.scrollHeight,
	ready: document.readyState
})`

// GetBrowserStateWithRecovery captures the focused tab for agentID.
//
// Captures are serialized per session: while one agent is capturing, others
// wait on the step lock or give up when ctx ends. The agent's previously
// focused tab is restored before capturing and remembered afterwards, so
// agents sharing the session do not observe each other's tab as current.
// A failed capture is retried once after recovering the tab, or the
// connection when it is gone.
func (s *Session) GetBrowserStateWithRecovery(ctx context.Context, agentID string) (*BrowserState, error) {
	if !s.IsConnected() {
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.stepLock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("browser: waiting for step lock: %w", err)
	}
	defer s.stepLock.Release(1)

	s.restoreFocus(ctx, agentID)

	state, err := s.captureState(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warnf("State capture failed for agent %s, recovering: %v", agentID, err)
		if rerr := s.recoverFocus(ctx); rerr != nil {
			return nil, fmt.Errorf("browser: recover after failed capture (%v): %w", err, rerr)
		}
		state, err = s.captureState(ctx)
		if err != nil {
			return nil, fmt.Errorf("browser: capture state: %w", err)
		}
	}

	s.mu.Lock()
	if agentID != "" {
		s.agentFocus[agentID] = state.FocusedTabID
		s.states[agentID] = state
	}
	s.mu.Unlock()
	return state, nil
}

// LastState returns the most recent snapshot taken for agentID.
func (s *Session) LastState(agentID string) (*BrowserState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[agentID]
	return st, ok
}

// RememberFocus records the currently focused tab as agentID's own, so the
// next capture for agentID starts there.
func (s *Session) RememberFocus(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agentID != "" && s.focused != "" {
		s.agentFocus[agentID] = s.focused
	}
}

func (s *Session) restoreFocus(ctx context.Context, agentID string) {
	s.mu.RLock()
	want := s.agentFocus[agentID]
	current := s.focused
	exists := s.findTabLocked(want) != nil
	s.mu.RUnlock()

	if want == "" || want == current || !exists {
		return
	}
	if _, err := s.SwitchTab(ctx, want); err != nil {
		s.logger.Debugf("Could not restore tab %s for agent %s: %v", want, agentID, err)
	}
}

// recoverFocus makes sure there is a usable focused tab, reconnecting if
// the browser is gone.
func (s *Session) recoverFocus(ctx context.Context) error {
	if !s.IsConnected() {
		s.lifecycle.Lock()
		err := s.start(ctx)
		s.lifecycle.Unlock()
		return err
	}

	t, err := s.focusedTab()
	if err == nil && !t.page.IsClosed() {
		// The page is alive but did not answer; replace it with a fresh tab
		// on the same url.
		url := t.page.URL()
		if _, err := s.NewTab(ctx, url); err != nil {
			return err
		}
		return s.CloseTab(ctx, t.id)
	}
	if t != nil {
		s.forgetTab(ctx, t)
	}

	if _, ok := s.FocusedTab(); ok {
		return nil
	}
	_, err = s.NewTab(ctx, "")
	return err
}

func (s *Session) captureState(ctx context.Context) (*BrowserState, error) {
	t, err := s.focusedTab()
	if err != nil {
		return nil, err
	}
	page := t.page

	title, err := page.Title()
	if err != nil {
		return nil, fmt.Errorf("read title: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	index, err := BuildDOMIndex(content)
	if err != nil {
		return nil, err
	}

	state := &BrowserState{
		URL:          page.URL(),
		Title:        title,
		FocusedTabID: t.id,
		SelectorMap:  index.Elements,
		ElementsText: index.Text,
		CapturedAt:   time.Now(),
	}

	// Scroll metrics are best effort; a page that cannot report them still
	// yields a usable snapshot.
	if raw, err := page.Evaluate(scrollScript); err == nil {
		if m, ok := raw.(map[string]interface{}); ok {
			y := toFloat(m["y"])
			viewport := toFloat(m["viewport"])
			height := toFloat(m["height"])
			state.PixelsAbove = int(y)
			if below := height - (y + viewport); below > 0 {
				state.PixelsBelow = int(below)
			}
			ready, _ := m["ready"].(string)
			state.Loading = ready != "" && ready != "complete"
		}
	} else {
		s.logger.Debugf("Scroll metrics unavailable: %v", err)
	}

	s.mu.Lock()
	t.title = title
	s.mu.Unlock()

	state.Tabs = s.Tabs()
	state.Errors = s.Errors()
	return state, nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}
