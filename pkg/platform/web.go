package platform

import (
	"context"

	"github.com/dibtr/grid-runner/pkg/capability"
	"github.com/dibtr/grid-runner/pkg/config"
	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/driver/web"
	"github.com/dibtr/grid-runner/pkg/logger"
)

// BrowserDriver is a web driver handle that can maximize its window.
type BrowserDriver interface {
	core.Driver
	Maximize(ctx context.Context) error
}

// BrowserDialer opens a browser session.
type BrowserDialer func(ctx context.Context, opts web.Options) (BrowserDriver, error)

// DialSelenium is the default BrowserDialer.
func DialSelenium(ctx context.Context, opts web.Options) (BrowserDriver, error) {
	d, err := web.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Web opens browser sessions on a Selenium grid or a local chromedriver.
type Web struct {
	Settings config.Settings
	Dial     BrowserDialer
}

// NewWeb returns a web configurator dialing through tebeka/selenium.
func NewWeb(settings config.Settings) *Web {
	return &Web{Settings: settings, Dial: DialSelenium}
}

// Platform implements Configurator.
func (w *Web) Platform() core.Platform { return core.PlatformWeb }

// Options derives the browser options from the settings.
func (w *Web) Options() (web.Options, error) {
	opts := web.Options{
		Browser:  w.Settings.BrowserName(),
		Headless: w.Settings.Headless(),
	}
	if _, err := web.Capabilities(opts); err != nil {
		return opts, err
	}
	if w.Settings.UsesLocalChromeDriver() && opts.Browser == web.BrowserChrome {
		opts.ChromeDriverPath = w.Settings.ChromeDriverPath()
		opts.ChromeDriverPort = w.Settings.ChromeDriverPort()
		return opts, nil
	}
	grid, err := w.Settings.GridURL()
	if err != nil {
		return opts, err
	}
	opts.GridURL = grid.String()
	return opts, nil
}

// Open implements Configurator. Params are not used by browsers.
func (w *Web) Open(ctx context.Context, _ Params) (*Handle, error) {
	opts, err := w.Options()
	if err != nil {
		return nil, err
	}
	caps := capability.Web(w.Settings)

	dial := w.Dial
	if dial == nil {
		dial = DialSelenium
	}
	d, err := dial(ctx, opts)
	if err != nil {
		return nil, core.NewSessionError(err, caps.Map())
	}
	if err := d.Maximize(ctx); err != nil {
		logger.Warn("session %s: maximize window: %v", d.SessionID(), err)
	}

	return &Handle{
		Driver:       d,
		Page:         newPage(w.Settings, d, core.PlatformWeb),
		Capabilities: caps,
	}, nil
}

// Close implements Configurator. Quitting also stops a local chromedriver.
func (w *Web) Close(ctx context.Context, d core.Driver) error {
	id := d.SessionID()
	if err := d.Quit(ctx); err != nil {
		return teardown(id, []error{err})
	}
	return nil
}
