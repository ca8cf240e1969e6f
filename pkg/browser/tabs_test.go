package browser_test

import (
	"context"
	"errors"
	"testing"

	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/browser/browsertest"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/events"
	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTabOperationsRequireConnection(t *testing.T) {
	s := newFixture(t).session
	ctx := context.Background()

	_, err := s.NewTab(ctx, "")
	assert.ErrorIs(t, err, browser.ErrNotConnected)
	assert.ErrorIs(t, s.Navigate(ctx, "https://example.com"), browser.ErrNotConnected)
	_, err = s.FocusedPage()
	assert.ErrorIs(t, err, browser.ErrNotConnected)
}

func TestNewTabFocusesAndNavigates(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	info, err := f.session.NewTab(ctx, "https://second.example/")
	require.NoError(t, err)
	assert.Equal(t, "https://second.example/", info.URL)
	assert.NotEmpty(t, info.TargetID)

	focused, ok := f.session.FocusedTab()
	require.True(t, ok)
	assert.Equal(t, info.TabID, focused.TabID)
	assert.Len(t, f.session.Tabs(), 2)

	nav, ok := lastPayload[events.NavigationCompleteEvent](f.events)
	require.True(t, ok)
	assert.Equal(t, info.TabID, nav.TabID)
	assert.Equal(t, "https://second.example/", nav.URL)
}

func TestSwitchAndCloseTabs(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	first, _ := f.session.FocusedTab()
	second, err := f.session.NewTab(ctx, "")
	require.NoError(t, err)
	third, err := f.session.NewTab(ctx, "")
	require.NoError(t, err)

	_, err = f.session.SwitchTab(ctx, first.TabID)
	require.NoError(t, err)
	focused, _ := f.session.FocusedTab()
	assert.Equal(t, first.TabID, focused.TabID)

	// Closing an unfocused tab keeps focus.
	require.NoError(t, f.session.CloseTab(ctx, second.TabID))
	focused, _ = f.session.FocusedTab()
	assert.Equal(t, first.TabID, focused.TabID)

	// Closing the focused tab moves focus to the newest remaining tab.
	require.NoError(t, f.session.CloseTab(ctx, first.TabID))
	focused, ok := f.session.FocusedTab()
	require.True(t, ok)
	assert.Equal(t, third.TabID, focused.TabID)

	assert.Equal(t, 2, f.events.count(events.TypeTabClosed))

	_, err = f.session.SwitchTab(ctx, "tab-404")
	assert.ErrorIs(t, err, browser.ErrTabNotFound)
	assert.ErrorIs(t, f.session.CloseTab(ctx, "tab-404"), browser.ErrTabNotFound)
}

func TestClosingLastTabClearsFocus(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	focused, _ := f.session.FocusedTab()
	require.NoError(t, f.session.CloseTab(context.Background(), focused.TabID))

	_, ok := f.session.FocusedTab()
	assert.False(t, ok)
	_, err := f.session.FocusedPage()
	assert.ErrorIs(t, err, browser.ErrNoFocusedTab)
}

func TestPageClosedByBrowserLeavesTable(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	_, err := f.session.NewTab(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, f.page.Close())
	assert.Len(t, f.session.Tabs(), 1)
	_, tracked := f.session.TargetIDForPage(f.page)
	assert.False(t, tracked)
}

func TestPopupsAreAdopted(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	popup := f.conn.OpenPopup("https://popup.example/")
	targetID, ok := f.session.TargetIDForPage(popup)
	require.True(t, ok)
	assert.NotEmpty(t, targetID)
	assert.Len(t, f.session.Tabs(), 2)
	assert.Equal(t, 2, f.events.count(events.TypeTabCreated))

	focused, _ := f.session.FocusedTab()
	assert.NotEqual(t, targetID, focused.TargetID, "popups do not steal focus")
}

func TestTargetIDFallsBackWhenCDPUnavailable(t *testing.T) {
	page := browsertest.NewPage("about:blank")
	conn := browsertest.NewConnection(page)
	conn.CDPErr = errors.New("no devtools")
	s := browser.NewSession(config.Default().Browser, browsertest.NewDriver(conn), browser.WithLogger(logging.Nop()))
	require.NoError(t, s.Start(context.Background()))

	targetID, ok := s.TargetIDForPage(page)
	require.True(t, ok)
	assert.Contains(t, targetID, "target-")
}

func TestNavigateAndGoBack(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	require.NoError(t, f.session.Navigate(ctx, "https://example.com/next"))
	assert.Equal(t, "https://example.com/next", f.page.URL())

	require.NoError(t, f.session.GoBack(ctx))
	assert.Equal(t, "https://example.com/", f.page.URL())
	assert.Equal(t, 2, f.events.count(events.TypeNavigationComplete))
}

func TestNavigateFailureIsClassified(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.page.GotoErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	err := f.session.Navigate(context.Background(), "https://nowhere.invalid/")
	var be *browser.BrowserError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, events.ErrorNavigation, be.Type)
	assert.True(t, browser.IsBrowserError(err))
}
