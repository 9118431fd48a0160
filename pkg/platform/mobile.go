package platform

import (
	"context"
	"time"

	"github.com/dibtr/grid-runner/pkg/capability"
	"github.com/dibtr/grid-runner/pkg/config"
	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/driver/appium"
	"github.com/dibtr/grid-runner/pkg/logger"
)

// DefaultOpenTimeout bounds session negotiation with the Appium endpoint.
const DefaultOpenTimeout = 5 * time.Minute

// Dialer opens a driver handle against an Appium endpoint.
type Dialer func(ctx context.Context, serverURL string, payload interface{}) (core.Driver, error)

// DialAppium is the default Dialer.
func DialAppium(ctx context.Context, serverURL string, payload interface{}) (core.Driver, error) {
	d, err := appium.NewDriver(ctx, serverURL, payload)
	if err != nil {
		return nil, err
	}
	return d, nil
}

type implicitWaiter interface {
	SetImplicitWait(ctx context.Context, timeout time.Duration) error
}

type appTerminator interface {
	TerminateApp(ctx context.Context, bundleID string) error
}

// Mobile opens iOS sessions on an Appium server or grid.
type Mobile struct {
	Settings    config.Settings
	Dial        Dialer
	OpenTimeout time.Duration
}

// NewMobile returns a mobile configurator dialing Appium.
func NewMobile(settings config.Settings) *Mobile {
	return &Mobile{Settings: settings, Dial: DialAppium, OpenTimeout: DefaultOpenTimeout}
}

// Platform implements Configurator.
func (m *Mobile) Platform() core.Platform { return core.PlatformMobile }

// Open implements Configurator.
func (m *Mobile) Open(ctx context.Context, p Params) (*Handle, error) {
	caps := capability.Mobile(m.Settings, capability.Request{
		PlatformVersion: p.PlatformVersion,
		DeviceName:      p.DeviceName,
		FullReset:       p.FullReset,
	})

	grid, err := m.Settings.GridURL()
	if err != nil {
		return nil, err
	}

	dial := m.Dial
	if dial == nil {
		dial = DialAppium
	}
	openCtx, cancel := withTimeout(ctx, m.OpenTimeout)
	defer cancel()

	logger.Info("opening mobile session on %s with %s", grid.Redacted(), caps)
	d, err := dial(openCtx, grid.String(), caps.Payload())
	if err != nil {
		return nil, core.NewSessionError(err, caps.Map())
	}

	if wait := m.Settings.ImplicitWait(); wait > 0 {
		if iw, ok := d.(implicitWaiter); ok {
			if err := iw.SetImplicitWait(ctx, wait); err != nil {
				logger.Warn("session %s: implicit wait not applied: %v", d.SessionID(), err)
			}
		}
	}

	return &Handle{
		Driver:       d,
		Page:         newPage(m.Settings, d, core.PlatformMobile),
		Capabilities: caps,
	}, nil
}

// Close implements Configurator. It terminates the app under test and quits
// the session, attempting both even if the first fails.
func (m *Mobile) Close(ctx context.Context, d core.Driver) error {
	id := d.SessionID()
	var errs []error

	if bundleID := m.Settings.BundleID(); bundleID != "" {
		var err error
		if t, ok := d.(appTerminator); ok {
			err = t.TerminateApp(ctx, bundleID)
		} else {
			_, err = d.Execute(ctx, "mobile: terminateApp", map[string]interface{}{"bundleId": bundleID})
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.Quit(ctx); err != nil {
		errs = append(errs, err)
	}
	return teardown(id, errs)
}
