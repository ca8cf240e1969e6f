package browser_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formPage = `<html><head><title>Login</title></head><body>
<nav><a href="/home">Home</a><a>not a link</a></nav>
<form action="/login">
  <input type="hidden" name="csrf" value="x">
  <input type="text" name="user" placeholder="Username">
  <input type="password" name="pass">
  <button type="submit">Sign in</button>
</form>
<div role="button" onclick="go()">Fancy</div>
<div style="display: none"><button>Ghost</button></div>
</body></html>`

func scrollMetrics(y, viewport, height float64, ready string) func(string, ...interface{}) (interface{}, error) {
	return func(expr string, _ ...interface{}) (interface{}, error) {
		return map[string]interface{}{"y": y, "viewport": viewport, "height": height, "ready": ready}, nil
	}
}

func TestGetBrowserStateStartsSession(t *testing.T) {
	f := newFixture(t)
	f.page.SetContent("Login", formPage)
	f.page.SetEvaluate(scrollMetrics(100, 800, 2000, "complete"))

	state, err := f.session.GetBrowserStateWithRecovery(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, f.session.IsConnected(), "capture connects lazily")

	assert.Equal(t, "https://example.com/", state.URL)
	assert.Equal(t, "Login", state.Title)
	assert.Len(t, state.Tabs, 1)
	assert.Equal(t, state.Tabs[0].TabID, state.FocusedTabID)
	assert.Equal(t, 100, state.PixelsAbove)
	assert.Equal(t, 1100, state.PixelsBelow)
	assert.False(t, state.Loading)

	require.Len(t, state.SelectorMap, 5)
	assert.Equal(t, "a", state.SelectorMap[0].Tag)
	assert.Equal(t, "Home", state.SelectorMap[0].Text)
	assert.Equal(t, "Username", state.SelectorMap[1].Text)
	assert.Equal(t, "button", state.SelectorMap[3].Tag)
	assert.Equal(t, "Sign in", state.SelectorMap[3].Text)
	assert.Equal(t, "div", state.SelectorMap[4].Tag)
	assert.NotContains(t, state.ElementsText, "Ghost")
	assert.NotContains(t, state.ElementsText, "csrf")

	cached, ok := f.session.LastState("agent-1")
	require.True(t, ok)
	assert.Same(t, state, cached)
}

func TestStateReportsLoadingAndErrors(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.page.SetEvaluate(scrollMetrics(0, 800, 400, "interactive"))
	_, err := f.session.Bus().Dispatch(context.Background(), events.NewBrowserError(events.ErrorNetworkTimeout, "slow", nil))
	require.NoError(t, err)

	state, err := f.session.GetBrowserStateWithRecovery(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, state.Loading)
	assert.Zero(t, state.PixelsBelow)
	require.Len(t, state.Errors, 1)
	assert.Equal(t, events.ErrorNetworkTimeout, state.Errors[0].ErrorType)
}

func TestStateToleratesMissingScrollMetrics(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.page.SetEvaluate(func(string, ...interface{}) (interface{}, error) {
		return nil, errors.New("execution context destroyed")
	})

	state, err := f.session.GetBrowserStateWithRecovery(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Zero(t, state.PixelsAbove)
	assert.Len(t, state.SelectorMap, 1)
}

func TestStepLockSerializesCaptures(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	f.page.SetEvaluate(func(string, ...interface{}) (interface{}, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.session.GetBrowserStateWithRecovery(context.Background(), "agent-1")
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.session.GetBrowserStateWithRecovery(ctx, "agent-2")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)

	// The lock is free again once the first capture returns.
	_, err = f.session.GetBrowserStateWithRecovery(context.Background(), "agent-2")
	require.NoError(t, err)
}

func TestSharedAgentsKeepTheirOwnTab(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	s := f.session

	require.True(t, s.ClaimAgent("agent-1", browser.ClaimShared))
	require.True(t, s.ClaimAgent("agent-2", browser.ClaimShared))

	first, err := s.GetBrowserStateWithRecovery(ctx, "agent-1")
	require.NoError(t, err)

	second, err := s.NewTab(ctx, "https://other.example/")
	require.NoError(t, err)
	s.RememberFocus("agent-2")

	state, err := s.GetBrowserStateWithRecovery(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, first.FocusedTabID, state.FocusedTabID)
	assert.Equal(t, "https://example.com/", state.URL)

	state, err = s.GetBrowserStateWithRecovery(ctx, "agent-2")
	require.NoError(t, err)
	assert.Equal(t, second.TabID, state.FocusedTabID)
	assert.Equal(t, "https://other.example/", state.URL)
}

func TestRecoveryReconnectsLostBrowser(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	require.True(t, f.session.ClaimAgent("agent-1", browser.ClaimExclusive))
	f.conn.Disconnect()

	state, err := f.session.GetBrowserStateWithRecovery(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.driver.ConnectCount())
	assert.Equal(t, "about:blank", state.URL)
	assert.True(t, f.session.IsClaimed(), "claims survive a reconnect")
}

func TestRecoveryReplacesUnresponsiveTab(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.page.ContentErr = errors.New("target closed")

	state, err := f.session.GetBrowserStateWithRecovery(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", state.URL, "replacement tab reopens the same url")
	assert.True(t, f.page.IsClosed())
	assert.Len(t, state.Tabs, 1)
	assert.NotEqual(t, "TARGET-1", state.Tabs[0].TargetID)
}

func TestRecoveryGivesUp(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.page.TitleErr = errors.New("renderer gone")
	f.conn.NewPageErr = errors.New("browser wedged")

	_, err := f.session.GetBrowserStateWithRecovery(context.Background(), "agent-1")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "browser wedged"))

	// The step lock was released on the failure path.
	f.page.TitleErr = nil
	_, err = f.session.GetBrowserStateWithRecovery(context.Background(), "agent-1")
	assert.NoError(t, err)
}
