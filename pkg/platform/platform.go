// Package platform opens and closes automation sessions for one platform:
// it builds the capability set, negotiates the session with the remote
// endpoint and binds a page to the resulting driver handle.
package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/dibtr/grid-runner/pkg/capability"
	"github.com/dibtr/grid-runner/pkg/config"
	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/logger"
	"github.com/dibtr/grid-runner/pkg/page"
	"github.com/dibtr/grid-runner/pkg/scroll"
)

// Params are the per-session inputs of Open.
type Params struct {
	PlatformVersion string
	DeviceName      string
	FullReset       bool
}

// Handle is an open session.
type Handle struct {
	Driver       core.Driver
	Page         *page.Page
	Capabilities *capability.Set
}

// Configurator opens and closes sessions for one platform.
type Configurator interface {
	Platform() core.Platform
	// Open negotiates a session. Rejections and timeouts are returned as
	// session errors carrying the attempted capabilities.
	Open(ctx context.Context, p Params) (*Handle, error)
	// Close releases a session. Failures are collected into a
	// *core.TeardownError; nothing is retried.
	Close(ctx context.Context, d core.Driver) error
}

// Select returns the configurator for platform after validating the settings
// it needs. Every supported location uses the same configurators; they
// differ only in the endpoint the settings point at.
func Select(settings config.Settings, platform core.Platform) (Configurator, error) {
	if err := settings.Validate(platform); err != nil {
		return nil, err
	}
	switch platform {
	case core.PlatformMobile:
		return NewMobile(settings), nil
	case core.PlatformWeb:
		return NewWeb(settings), nil
	default:
		return nil, core.NewConfigurationError("platform", fmt.Errorf("unknown platform %q", platform))
	}
}

func newPage(settings config.Settings, d core.Driver, platform core.Platform) *page.Page {
	return page.New(d, page.Options{
		Platform:  platform,
		Wait:      settings.WaitPolicy(),
		TypeDelay: settings.TypeDelay(),
		BaseURL:   settings.BaseURL(),
		Scroll:    scroll.New(settings.ScrollMaxSteps()),
	})
}

func teardown(sessionID string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs {
		logger.Warn("teardown of session %s: %v", sessionID, err)
	}
	return &core.TeardownError{SessionID: sessionID, Errors: errs}
}

// withTimeout bounds ctx by d. Zero means unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
