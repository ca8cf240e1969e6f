package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/browseruse/pkg/events"
	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// Tabs lists the tab table in the order tabs were opened.
func (s *Session) Tabs() []TabInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TabInfo, 0, len(s.tabs))
	for _, t := range s.tabs {
		out = append(out, t.info())
	}
	return out
}

// Pages lists the pages of the tab table.
func (s *Session) Pages() []Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Page, 0, len(s.tabs))
	for _, t := range s.tabs {
		out = append(out, t.page)
	}
	return out
}

// FocusedTab returns the tab actions apply to.
func (s *Session) FocusedTab() (TabInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.findTabLocked(s.focused); t != nil {
		return t.info(), true
	}
	return TabInfo{}, false
}

// FocusedPage returns the page of the focused tab.
func (s *Session) FocusedPage() (Page, error) {
	t, err := s.focusedTab()
	if err != nil {
		return nil, err
	}
	return t.page, nil
}

// TargetIDForPage resolves the target id of a tracked page.
func (s *Session) TargetIDForPage(p Page) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.findPageLocked(p); t != nil {
		return t.targetID, true
	}
	return "", false
}

// NewTab opens a tab, focuses it and, when url is not empty, navigates it.
func (s *Session) NewTab(ctx context.Context, url string) (TabInfo, error) {
	conn, err := s.Connection()
	if err != nil {
		return TabInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return TabInfo{}, err
	}

	p, err := conn.NewPage()
	if err != nil {
		return TabInfo{}, fmt.Errorf("browser: open tab: %w", err)
	}
	info, _ := s.adoptPage(ctx, p)
	s.focusTab(ctx, info.TabID)

	if url != "" {
		if err := s.Navigate(ctx, url); err != nil {
			return info, err
		}
	}
	return s.tabInfo(info.TabID)
}

// SwitchTab focuses an existing tab.
func (s *Session) SwitchTab(ctx context.Context, tabID string) (TabInfo, error) {
	s.mu.RLock()
	t := s.findTabLocked(tabID)
	s.mu.RUnlock()
	if t == nil {
		return TabInfo{}, fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}
	if err := t.page.BringToFront(); err != nil {
		s.logger.Debugf("BringToFront on tab %s failed: %v", tabID, err)
	}
	s.focusTab(ctx, tabID)
	return s.tabInfo(tabID)
}

// CloseTab closes a tab. Focus moves to the most recently opened remaining
// tab when the focused tab is closed.
func (s *Session) CloseTab(ctx context.Context, tabID string) error {
	s.mu.RLock()
	t := s.findTabLocked(tabID)
	s.mu.RUnlock()
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
	}

	t.page.RemoveListener("close", t.onClose)
	if err := t.page.Close(); err != nil {
		s.logger.Debugf("Closing tab %s: %v", tabID, err)
	}
	s.forgetTab(ctx, t)
	return nil
}

// Navigate loads url in the focused tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	t, err := s.focusedTab()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := t.page.Goto(url, s.gotoOptions(ctx))
	if err != nil {
		return &BrowserError{
			Type:    events.ErrorNavigation,
			Message: fmt.Sprintf("navigation to %s failed", url),
			Err:     err,
		}
	}
	s.afterNavigation(ctx, t, resp)
	return nil
}

// GoBack navigates the focused tab back in its history.
func (s *Session) GoBack(ctx context.Context) error {
	t, err := s.focusedTab()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	waitUntil := playwright.WaitUntilState("domcontentloaded")
	resp, err := t.page.GoBack(playwright.PageGoBackOptions{WaitUntil: &waitUntil})
	if err != nil {
		return &BrowserError{Type: events.ErrorNavigation, Message: "go back failed", Err: err}
	}
	s.afterNavigation(ctx, t, resp)
	return nil
}

func (s *Session) gotoOptions(ctx context.Context) playwright.PageGotoOptions {
	waitUntil := playwright.WaitUntilState("domcontentloaded")
	opts := playwright.PageGotoOptions{WaitUntil: &waitUntil}

	timeout := s.profile.NavigationTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout == 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout > 0 {
		ms := float64(timeout.Milliseconds())
		opts.Timeout = &ms
	}
	return opts
}

func (s *Session) afterNavigation(ctx context.Context, t *tab, resp playwright.Response) {
	status := 0
	if resp != nil {
		status = resp.Status()
	}
	if title, err := t.page.Title(); err == nil {
		s.mu.Lock()
		t.title = title
		s.mu.Unlock()
	}
	s.emit(ctx, events.New(events.NavigationCompleteEvent{
		TabID:    t.id,
		TargetID: t.targetID,
		URL:      t.page.URL(),
		Status:   status,
	}))
}

// adoptPage adds p to the tab table unless it is already tracked.
func (s *Session) adoptPage(ctx context.Context, p Page) (TabInfo, bool) {
	s.mu.RLock()
	conn := s.conn
	if t := s.findPageLocked(p); t != nil {
		info := t.info()
		s.mu.RUnlock()
		return info, false
	}
	s.mu.RUnlock()
	if conn == nil {
		return TabInfo{}, false
	}

	targetID := s.resolveTargetID(conn, p)

	s.mu.Lock()
	if t := s.findPageLocked(p); t != nil {
		info := t.info()
		s.mu.Unlock()
		return info, false
	}
	s.nextTab++
	t := &tab{id: fmt.Sprintf("tab-%d", s.nextTab), targetID: targetID, page: p}
	t.onClose = func(interface{}) {
		s.forgetTab(context.Background(), t)
	}
	s.tabs = append(s.tabs, t)
	info := t.info()
	s.mu.Unlock()

	p.On("close", t.onClose)
	s.logger.Debugf("Tracking %s (target %s)", t.id, targetID)
	s.emit(ctx, events.New(events.TabCreatedEvent{TabID: info.TabID, TargetID: targetID, URL: info.URL}))
	return info, true
}

// forgetTab removes t from the tab table. It is a no-op for untracked tabs.
func (s *Session) forgetTab(ctx context.Context, t *tab) {
	s.mu.Lock()
	idx := -1
	for i, candidate := range s.tabs {
		if candidate == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.tabs = append(s.tabs[:idx:idx], s.tabs[idx+1:]...)

	var next *tab
	if s.focused == t.id {
		s.focused = ""
		if n := len(s.tabs); n > 0 {
			next = s.tabs[n-1]
			s.focused = next.id
		}
	}
	var nextInfo TabInfo
	if next != nil {
		nextInfo = next.info()
	}
	s.mu.Unlock()

	s.emit(ctx, events.New(events.TabClosedEvent{TabID: t.id, TargetID: t.targetID}))
	if next != nil {
		s.emit(ctx, events.New(events.AgentFocusChangedEvent{
			TabID:    nextInfo.TabID,
			TargetID: nextInfo.TargetID,
			URL:      nextInfo.URL,
		}))
	}
}

func (s *Session) focusTab(ctx context.Context, tabID string) {
	s.mu.Lock()
	t := s.findTabLocked(tabID)
	if t == nil || s.focused == tabID {
		s.mu.Unlock()
		return
	}
	s.focused = tabID
	info := t.info()
	s.mu.Unlock()

	s.emit(ctx, events.New(events.AgentFocusChangedEvent{
		TabID:    info.TabID,
		TargetID: info.TargetID,
		URL:      info.URL,
	}))
}

func (s *Session) focusedTab() (*tab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	t := s.findTabLocked(s.focused)
	if t == nil {
		return nil, ErrNoFocusedTab
	}
	return t, nil
}

func (s *Session) tabInfo(tabID string) (TabInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.findTabLocked(tabID); t != nil {
		return t.info(), nil
	}
	return TabInfo{}, fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
}

func (s *Session) findTabLocked(tabID string) *tab {
	if tabID == "" {
		return nil
	}
	for _, t := range s.tabs {
		if t.id == tabID {
			return t
		}
	}
	return nil
}

func (s *Session) findPageLocked(p Page) *tab {
	for _, t := range s.tabs {
		if t.page == p {
			return t
		}
	}
	return nil
}

// resolveTargetID asks the browser for the page's target id, falling back
// to a generated one when the DevTools channel is unavailable.
func (s *Session) resolveTargetID(conn Connection, p Page) string {
	cdp, err := conn.NewCDPSession(p)
	if err == nil {
		defer func() { _ = cdp.Detach() }()
		res, err := cdp.Send("Target.getTargetInfo", nil)
		if err == nil {
			if id := targetIDFromInfo(res); id != "" {
				return id
			}
		}
		s.logger.Debugf("Target.getTargetInfo failed: %v", err)
	}
	return "target-" + uuid.NewString()[:8]
}

func targetIDFromInfo(res interface{}) string {
	m, ok := res.(map[string]interface{})
	if !ok {
		return ""
	}
	info, ok := m["targetInfo"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := info["targetId"].(string)
	return id
}
