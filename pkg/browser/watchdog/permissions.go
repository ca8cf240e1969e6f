package watchdog

import (
	"context"
	"fmt"

	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/eventbus"
	"github.com/entrhq/browseruse/pkg/events"
)

// cdpPermissionNames maps playwright permission names to the DevTools
// PermissionType values accepted by Browser.grantPermissions.
var cdpPermissionNames = map[string]string{
	"geolocation":          "geolocation",
	"notifications":        "notifications",
	"midi":                 "midi",
	"midi-sysex":           "midiSysex",
	"camera":               "videoCapture",
	"microphone":           "audioCapture",
	"clipboard-read":       "clipboardReadWrite",
	"clipboard-write":      "clipboardSanitizedWrite",
	"background-sync":      "backgroundSync",
	"payment-handler":      "paymentHandler",
	"accelerometer":        "sensors",
	"gyroscope":            "sensors",
	"magnetometer":         "sensors",
	"ambient-light-sensor": "sensors",
	"storage-access":       "storageAccess",
}

// PermissionsWatchdog grants the profile's permissions every time the
// session connects.
type PermissionsWatchdog struct {
	base
}

// NewPermissionsWatchdog creates a permissions watchdog.
func NewPermissionsWatchdog() *PermissionsWatchdog {
	return &PermissionsWatchdog{base: newBase("permissions")}
}

func (w *PermissionsWatchdog) OnAttach(s *browser.Session) error {
	return w.attach(s, subscription{events.TypeBrowserConnected, w.onConnected})
}

func (w *PermissionsWatchdog) OnDetach(_ *browser.Session) error {
	w.detach()
	return nil
}

// onConnected never fails the connect: a grant failure is reported as a
// browser error and the session carries on without the permissions.
func (w *PermissionsWatchdog) onConnected(ctx context.Context, _ *eventbus.Event) (any, error) {
	s := w.currentSession()
	if s == nil {
		return nil, nil
	}
	perms := s.Profile().Permissions
	if len(perms) == 0 {
		return nil, nil
	}
	conn, err := s.Connection()
	if err != nil {
		w.report(ctx, s, events.NewBrowserError(events.ErrorPermissions,
			fmt.Sprintf("failed to grant permissions: %v", err), map[string]any{
				"permissions": perms,
				"error":       err.Error(),
			}))
		return nil, nil
	}

	cdpErr := grantOverCDP(conn, perms)
	if cdpErr == nil {
		w.logger.Debugf("Granted %v over DevTools", perms)
		return "cdp", nil
	}
	w.logger.Debugf("DevTools grant failed, falling back to context grant: %v", cdpErr)

	ctxErr := conn.GrantPermissions(perms, "")
	if ctxErr == nil {
		return "context", nil
	}

	w.report(ctx, s, events.NewBrowserError(events.ErrorPermissions,
		fmt.Sprintf("failed to grant permissions: %v", ctxErr), map[string]any{
			"permissions": perms,
			"cdp_error":   cdpErr.Error(),
			"error":       ctxErr.Error(),
		}))
	return nil, nil
}

func grantOverCDP(conn browser.Connection, perms []string) error {
	cdp, err := conn.NewBrowserCDPSession()
	if err != nil {
		return err
	}
	defer cdp.Detach()

	_, err = cdp.Send("Browser.grantPermissions", map[string]interface{}{
		"permissions": cdpPermissions(perms),
	})
	return err
}

// cdpPermissions translates and de-duplicates permission names. Unknown
// names pass through unchanged.
func cdpPermissions(perms []string) []string {
	seen := make(map[string]bool, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		name, ok := cdpPermissionNames[p]
		if !ok {
			name = p
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
