package browser

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/entrhq/browseruse/pkg/config"
	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver launches Chromium, or connects to a running browser over
// CDP, through playwright-go.
type PlaywrightDriver struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	install     bool
	initialized bool
}

// DriverOption configures a PlaywrightDriver.
type DriverOption func(*PlaywrightDriver)

// WithoutInstall skips downloading the playwright driver and browsers, for
// environments where they are provisioned ahead of time.
func WithoutInstall() DriverOption {
	return func(d *PlaywrightDriver) {
		d.install = false
	}
}

// NewPlaywrightDriver creates a driver. Playwright itself is started lazily
// on the first Connect.
func NewPlaywrightDriver(opts ...DriverOption) *PlaywrightDriver {
	d := &PlaywrightDriver{install: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Initialize installs and runs playwright. It is safe to call repeatedly.
func (d *PlaywrightDriver) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	// Driver output would interleave with the run log.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if d.install {
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	d.pw = pw
	d.initialized = true
	return nil
}

// Connect launches or attaches to a browser according to profile.
func (d *PlaywrightDriver) Connect(ctx context.Context, profile config.BrowserProfile) (Connection, error) {
	if err := d.Initialize(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		b   playwright.Browser
		err error
	)
	if profile.CDPURL != "" {
		b, err = d.pw.Chromium.ConnectOverCDP(profile.CDPURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect over CDP to %s: %w", profile.CDPURL, err)
		}
	} else {
		b, err = d.pw.Chromium.Launch(launchOptions(profile))
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
	}

	// A browser attached over CDP usually already has a default context
	// holding the user's tabs.
	var bctx playwright.BrowserContext
	if existing := b.Contexts(); profile.CDPURL != "" && len(existing) > 0 {
		bctx = existing[0]
	} else {
		bctx, err = b.NewContext(contextOptions(profile))
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to create context: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		_ = bctx.Close()
		_ = b.Close()
		return nil, err
	}

	return &playwrightConnection{
		browser:  b,
		context:  bctx,
		endpoint: profile.CDPURL,
		timeout:  float64(profile.NavigationTimeout.Milliseconds()),
	}, nil
}

// Shutdown stops the playwright driver process.
func (d *PlaywrightDriver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}
	d.initialized = false
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

func launchOptions(profile config.BrowserProfile) playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(profile.Headless),
		Args:     profile.Args,
	}
	if profile.Channel != "" {
		opts.Channel = playwright.String(profile.Channel)
	}
	if profile.ExecutablePath != "" {
		opts.ExecutablePath = playwright.String(profile.ExecutablePath)
	}
	return opts
}

func contextOptions(profile config.BrowserProfile) playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{}
	if profile.ViewportWidth > 0 && profile.ViewportHeight > 0 {
		opts.Viewport = &playwright.Size{
			Width:  profile.ViewportWidth,
			Height: profile.ViewportHeight,
		}
	}
	if profile.UserAgent != "" {
		opts.UserAgent = playwright.String(profile.UserAgent)
	}
	return opts
}

type playwrightConnection struct {
	browser  playwright.Browser
	context  playwright.BrowserContext
	endpoint string
	timeout  float64
}

func (c *playwrightConnection) Pages() []Page {
	pages := c.context.Pages()
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		c.prepare(p)
		out = append(out, p)
	}
	return out
}

func (c *playwrightConnection) NewPage() (Page, error) {
	p, err := c.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	c.prepare(p)
	return p, nil
}

func (c *playwrightConnection) OnPage(fn func(Page)) {
	c.context.OnPage(func(p playwright.Page) {
		c.prepare(p)
		fn(p)
	})
}

func (c *playwrightConnection) prepare(p playwright.Page) {
	if c.timeout > 0 {
		p.SetDefaultTimeout(c.timeout)
	}
}

func (c *playwrightConnection) GrantPermissions(permissions []string, origin string) error {
	var opts playwright.BrowserContextGrantPermissionsOptions
	if origin != "" {
		opts.Origin = playwright.String(origin)
	}
	return c.context.GrantPermissions(permissions, opts)
}

func (c *playwrightConnection) NewCDPSession(page Page) (CDPSession, error) {
	p, ok := page.(playwright.Page)
	if !ok {
		return nil, fmt.Errorf("page %T is not a playwright page", page)
	}
	return c.context.NewCDPSession(p)
}

func (c *playwrightConnection) NewBrowserCDPSession() (CDPSession, error) {
	return c.browser.NewBrowserCDPSession()
}

func (c *playwrightConnection) IsConnected() bool {
	return c.browser.IsConnected()
}

func (c *playwrightConnection) Close() error {
	_ = c.context.Close() // Ignore errors, continue cleanup
	return c.browser.Close()
}

func (c *playwrightConnection) Endpoint() string {
	return c.endpoint
}
