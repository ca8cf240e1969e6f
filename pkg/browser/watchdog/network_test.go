package watchdog_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/browseruse/pkg/browser/browsertest"
	"github.com/entrhq/browseruse/pkg/browser/watchdog"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newNetworkWatchdog(c *clock) *watchdog.NetworkWatchdog {
	return watchdog.NewNetworkWatchdog(config.NetworkWatchdogSettings{
		Enabled:        true,
		RequestTimeout: 30 * time.Second,
	}, watchdog.WithClock(c.Now))
}

func TestNetworkWatchdogReportsStalledRequests(t *testing.T) {
	f := newFixture(t, config.Default().Browser)
	c := &clock{now: time.Unix(1700000000, 0)}
	w := newNetworkWatchdog(c)
	require.NoError(t, f.session.AttachWatchdog(w))
	f.start(t)
	ctx := context.Background()

	slow := &browsertest.Request{RequestURL: "https://example.com/slow", RequestMethod: "GET"}
	fast := &browsertest.Request{RequestURL: "https://example.com/fast", RequestMethod: "POST"}
	f.page.Emit("request", slow)
	f.page.Emit("request", fast)
	f.page.Emit("request", "not a request")
	assert.Equal(t, 2, w.Pending())

	c.Advance(10 * time.Second)
	f.page.Emit("requestfinished", fast)
	assert.Equal(t, 1, w.Pending())
	w.Sweep(ctx)
	assert.Empty(t, f.browserErrors(events.ErrorNetworkTimeout))

	c.Advance(25 * time.Second)
	w.Sweep(ctx)
	assert.Zero(t, w.Pending(), "a reported request is no longer tracked")
	w.Sweep(ctx)

	errs := f.browserErrors(events.ErrorNetworkTimeout)
	require.Len(t, errs, 1, "each stalled request is reported once")
	assert.Equal(t, "https://example.com/slow", errs[0].Details["url"])
	assert.Equal(t, "GET", errs[0].Details["method"])
	assert.Equal(t, "TARGET-1", errs[0].Details["target_id"])
	assert.Equal(t, int64(35000), errs[0].Details["pending_ms"])

	f.page.Emit("requestfailed", slow)
	assert.Zero(t, w.Pending())
}

func TestNetworkWatchdogRemovesListenersOnStop(t *testing.T) {
	f := newFixture(t, config.Default().Browser)
	c := &clock{now: time.Now()}
	w := newNetworkWatchdog(c)
	require.NoError(t, f.session.AttachWatchdog(w))
	f.start(t)

	f.page.Emit("request", &browsertest.Request{RequestURL: "https://example.com/", RequestMethod: "GET"})
	require.NoError(t, f.session.Stop(context.Background()))

	for _, name := range []string{"request", "requestfinished", "requestfailed"} {
		assert.Zero(t, f.page.ListenerCount(name), name)
		assert.Len(t, f.page.RemovedFor(name), len(f.page.AddedFor(name)), name)
	}
	assert.Zero(t, w.Pending())
}

func TestNetworkWatchdogTracksPopups(t *testing.T) {
	f := newFixture(t, config.Default().Browser)
	w := newNetworkWatchdog(&clock{now: time.Now()})
	require.NoError(t, f.session.AttachWatchdog(w))
	f.start(t)

	popup := f.conn.OpenPopup("https://popup.example/")
	popup.Emit("request", &browsertest.Request{RequestURL: "https://popup.example/api", RequestMethod: "GET"})
	assert.Equal(t, 1, w.Pending())

	require.NoError(t, popup.Close())
	assert.Zero(t, w.Pending(), "closing the tab drops its pending requests")
}
