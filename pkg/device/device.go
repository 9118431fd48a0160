// Package device manages the app under test on an iOS device or simulator
// through Appium "mobile:" commands: launch, terminate, install, remove,
// reset and reboot, plus the location-services permission prompt.
package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/logger"
	"github.com/dibtr/grid-runner/pkg/page"
)

// Appium commands.
const (
	cmdLaunchApp    = "mobile: launchApp"
	cmdTerminateApp = "mobile: terminateApp"
	cmdInstallApp   = "mobile: installApp"
	cmdRemoveApp    = "mobile: removeApp"
	cmdClearApp     = "mobile: clearApp"
	cmdReboot       = "mobile:handset:reboot"
)

// Locators for the location permission flow in Settings.
var (
	SettingsButton  = core.Predicate("label CONTAINS 'Settings'")
	LocationRow     = core.Predicate("label CONTAINS 'Location'")
	WhileUsingApp   = core.Predicate("label CONTAINS 'While Using the App'")
	BackToAppButton = core.AccessibilityID("breadcrumb")
)

// Support controls the app identified by BundleID.
type Support struct {
	page     *page.Page
	BundleID string
	AppPath  string
}

// New returns device support for the session behind p.
func New(p *page.Page, bundleID, appPath string) *Support {
	return &Support{page: p, BundleID: bundleID, AppPath: appPath}
}

func (s *Support) bundle() (map[string]interface{}, error) {
	if s.BundleID == "" {
		return nil, core.NewConfigurationError("mobile.appium.bundleId", core.ErrMissingRequired)
	}
	return map[string]interface{}{"bundleId": s.BundleID}, nil
}

func (s *Support) execBundle(ctx context.Context, cmd string) error {
	args, err := s.bundle()
	if err != nil {
		return err
	}
	if _, err := s.page.Execute(ctx, cmd, args); err != nil {
		return core.ErrApp.WithMessage(fmt.Sprintf("%s %s failed", cmd, s.BundleID)).WithCause(err)
	}
	return nil
}

// LaunchApp brings the app to the foreground, starting it if needed.
func (s *Support) LaunchApp(ctx context.Context) error {
	if err := s.execBundle(ctx, cmdLaunchApp); err != nil {
		return err
	}
	logger.Info("app %s launched", s.BundleID)
	return nil
}

// CloseApp terminates the app.
func (s *Support) CloseApp(ctx context.Context) error {
	logger.Info("closing app %s", s.BundleID)
	return s.execBundle(ctx, cmdTerminateApp)
}

// RestartApp closes and launches the app.
func (s *Support) RestartApp(ctx context.Context) error {
	if err := s.CloseApp(ctx); err != nil {
		return err
	}
	return s.LaunchApp(ctx)
}

// InstallApp installs the app from AppPath.
func (s *Support) InstallApp(ctx context.Context) error {
	if s.AppPath == "" {
		return core.NewConfigurationError("mobile.device.app.path.local", core.ErrMissingRequired)
	}
	logger.Info("installing %s", s.AppPath)
	if _, err := s.page.Execute(ctx, cmdInstallApp, map[string]interface{}{"app": s.AppPath}); err != nil {
		return core.ErrApp.WithMessage("install " + s.AppPath + " failed").WithCause(err)
	}
	return nil
}

// UninstallApp removes the app from the device.
func (s *Support) UninstallApp(ctx context.Context) error {
	logger.Info("removing app %s", s.BundleID)
	return s.execBundle(ctx, cmdRemoveApp)
}

// ResetApp terminates the app, clears its data and launches it again.
func (s *Support) ResetApp(ctx context.Context) error {
	if err := s.CloseApp(ctx); err != nil {
		return err
	}
	if err := s.execBundle(ctx, cmdClearApp); err != nil {
		return err
	}
	return s.LaunchApp(ctx)
}

// Reboot restarts the handset. Only device clouds that support
// mobile:handset:reboot honour it.
func (s *Support) Reboot(ctx context.Context) error {
	logger.Warn("rebooting device")
	_, err := s.page.Execute(ctx, cmdReboot, map[string]interface{}{})
	return err
}

// TurnOnLocationServices answers the location prompt that sends the user to
// Settings: it opens Settings, sets location access to "While Using the App"
// and returns to the app. It reports false without clicking anything when no
// Settings button is on screen.
func (s *Support) TurnOnLocationServices(ctx context.Context) (bool, error) {
	src, err := s.page.Source(ctx)
	if err != nil {
		return false, err
	}
	if !strings.Contains(src, "Settings") {
		return false, nil
	}
	for _, loc := range []core.Locator{SettingsButton, LocationRow, WhileUsingApp, BackToAppButton} {
		if err := s.page.Click(ctx, loc, 0); err != nil {
			return false, err
		}
	}
	return true, nil
}
