package watchdog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/entrhq/browseruse/pkg/browser/watchdog"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manualCrashSettings(threshold int) config.CrashWatchdogSettings {
	return config.CrashWatchdogSettings{
		Enabled:            true,
		HealthCheckTimeout: 50 * time.Millisecond,
		FailureThreshold:   threshold,
	}
}

func TestCrashWatchdogReportsCrashAndCleansUp(t *testing.T) {
	f := newFixture(t, config.Default().Browser)
	w := watchdog.NewCrashWatchdog(manualCrashSettings(3))
	require.NoError(t, f.session.AttachWatchdog(w))
	assert.Zero(t, f.page.ListenerCount("crash"), "no page listeners before connect")

	f.start(t)
	assert.Equal(t, watchdog.StateMonitoring, w.State())
	assert.Equal(t, 1, f.page.ListenerCount("crash"))

	f.page.Emit("crash", errors.New("renderer crashed"))

	crashes := payloads[events.TargetCrashedEvent](f)
	require.Len(t, crashes, 1)
	assert.Equal(t, "TARGET-1", crashes[0].TargetID)
	assert.Equal(t, "renderer crashed", crashes[0].Error)

	errs := f.browserErrors(events.ErrorTargetCrash)
	require.Len(t, errs, 1)
	assert.Equal(t, "renderer crashed", errs[0].Message)
	assert.Equal(t, "TARGET-1", errs[0].Details["target_id"])

	require.NoError(t, f.session.Stop(context.Background()))
	assert.Zero(t, f.page.ListenerCount("crash"))
	assert.Len(t, f.page.RemovedFor("crash"), len(f.page.AddedFor("crash")))
	assert.Equal(t, watchdog.StateDetached, w.State())
	assert.Zero(t, w.WatchedPages())
}

func TestCrashMessageDefaults(t *testing.T) {
	f := newFixture(t, config.Default().Browser)
	require.NoError(t, f.session.AttachWatchdog(watchdog.NewCrashWatchdog(manualCrashSettings(3))))
	f.start(t)

	f.page.Emit("crash")
	f.page.Emit("crash", "oom")

	crashes := payloads[events.TargetCrashedEvent](f)
	require.Len(t, crashes, 2)
	assert.Equal(t, "Target crashed", crashes[0].Error)
	assert.Equal(t, "oom", crashes[1].Error)
}

func TestCrashWatchdogFollowsTabs(t *testing.T) {
	f := newFixture(t, config.Default().Browser)
	w := watchdog.NewCrashWatchdog(manualCrashSettings(3))
	require.NoError(t, f.session.AttachWatchdog(w))
	f.start(t)

	popup := f.conn.OpenPopup("https://popup.example/")
	assert.Equal(t, 2, w.WatchedPages())
	assert.Equal(t, 1, popup.ListenerCount("crash"))

	targetID, ok := f.session.TargetIDForPage(popup)
	require.True(t, ok)
	var tabID string
	for _, tab := range f.session.Tabs() {
		if tab.TargetID == targetID {
			tabID = tab.TabID
		}
	}
	require.NoError(t, f.session.CloseTab(context.Background(), tabID))

	assert.Equal(t, 1, w.WatchedPages())
	assert.Zero(t, popup.ListenerCount("crash"))
}

func TestCrashWatchdogSurvivesRestart(t *testing.T) {
	f := newFixture(t, config.Default().Browser)
	w := watchdog.NewCrashWatchdog(manualCrashSettings(3))
	require.NoError(t, f.session.AttachWatchdog(w))

	f.start(t)
	require.NoError(t, f.session.Stop(context.Background()))
	f.start(t)

	assert.Equal(t, watchdog.StateMonitoring, w.State())
	assert.Equal(t, 1, w.WatchedPages())
	assert.Zero(t, f.page.ListenerCount("crash"), "old page keeps no listener")
}

func TestHealthCheckReportsUnresponsiveOnce(t *testing.T) {
	f := newFixture(t, config.Default().Browser)
	w := watchdog.NewCrashWatchdog(manualCrashSettings(2))
	require.NoError(t, f.session.AttachWatchdog(w))
	f.start(t)
	ctx := context.Background()

	f.page.SetEvaluate(func(string, ...interface{}) (interface{}, error) {
		return nil, errors.New("execution context destroyed")
	})
	w.CheckNow(ctx)
	assert.Empty(t, f.browserErrors(events.ErrorTargetUnresponsive))
	w.CheckNow(ctx)
	w.CheckNow(ctx)
	require.Len(t, f.browserErrors(events.ErrorTargetUnresponsive), 1)

	// A healthy answer re-arms the report.
	f.page.SetEvaluate(nil)
	w.CheckNow(ctx)
	f.page.SetEvaluate(func(string, ...interface{}) (interface{}, error) {
		panic("driver bug")
	})
	w.CheckNow(ctx)
	w.CheckNow(ctx)

	errs := f.browserErrors(events.ErrorTargetUnresponsive)
	require.Len(t, errs, 2)
	assert.Equal(t, "TARGET-1", errs[1].Details["target_id"])
	assert.Equal(t, 2, errs[1].Details["failures"])
}

func TestHealthCheckTimesOut(t *testing.T) {
	f := newFixture(t, config.Default().Browser)
	w := watchdog.NewCrashWatchdog(manualCrashSettings(1))
	require.NoError(t, f.session.AttachWatchdog(w))
	f.start(t)

	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	f.page.SetEvaluate(func(string, ...interface{}) (interface{}, error) {
		<-hang
		return nil, nil
	})

	w.CheckNow(context.Background())
	errs := f.browserErrors(events.ErrorTargetUnresponsive)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Details["error"], "timed out")
}

func TestHealthLoopRunsInBackground(t *testing.T) {
	f := newFixture(t, config.Default().Browser)
	cfg := manualCrashSettings(1)
	cfg.HealthCheckInterval = 5 * time.Millisecond
	require.NoError(t, f.session.AttachWatchdog(watchdog.NewCrashWatchdog(cfg)))
	f.page.SetEvaluate(func(string, ...interface{}) (interface{}, error) {
		return nil, errors.New("gone")
	})
	f.start(t)

	assert.Eventually(t, func() bool {
		return len(f.browserErrors(events.ErrorTargetUnresponsive)) == 1
	}, time.Second, 5*time.Millisecond)
}
