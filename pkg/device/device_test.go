package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/driver/mock"
	"github.com/dibtr/grid-runner/pkg/page"
)

const bundleID = "com.example.demo"

func newSupport(d *mock.Driver) *Support {
	p := page.New(d, page.Options{Wait: core.WaitPolicy{Timeout: 200 * time.Millisecond, PollInterval: 20 * time.Millisecond}})
	return New(p, bundleID, "/apps/Demo.app")
}

func executed(d *mock.Driver) ([]string, []map[string]interface{}) {
	var scripts []string
	var args []map[string]interface{}
	for _, c := range d.Calls() {
		if c.Method != "Execute" {
			continue
		}
		scripts = append(scripts, c.Args[0].(string))
		if len(c.Args) > 1 {
			args = append(args, c.Args[1].(map[string]interface{}))
		}
	}
	return scripts, args
}

func TestAppCommands(t *testing.T) {
	tests := []struct {
		name    string
		run     func(*Support, context.Context) error
		scripts []string
	}{
		{"launch", (*Support).LaunchApp, []string{"mobile: launchApp"}},
		{"close", (*Support).CloseApp, []string{"mobile: terminateApp"}},
		{"restart", (*Support).RestartApp, []string{"mobile: terminateApp", "mobile: launchApp"}},
		{"uninstall", (*Support).UninstallApp, []string{"mobile: removeApp"}},
		{"reset", (*Support).ResetApp, []string{"mobile: terminateApp", "mobile: clearApp", "mobile: launchApp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mock.New(mock.Config{})

			require.NoError(t, tt.run(newSupport(d), context.Background()))

			scripts, args := executed(d)
			assert.Equal(t, tt.scripts, scripts)
			for _, a := range args {
				assert.Equal(t, bundleID, a["bundleId"])
			}
		})
	}
}

func TestInstallApp(t *testing.T) {
	d := mock.New(mock.Config{})

	require.NoError(t, newSupport(d).InstallApp(context.Background()))

	scripts, args := executed(d)
	assert.Equal(t, []string{"mobile: installApp"}, scripts)
	assert.Equal(t, "/apps/Demo.app", args[0]["app"])
}

func TestMissingConfiguration(t *testing.T) {
	d := mock.New(mock.Config{})
	s := New(page.New(d, page.Options{}), "", "")

	assert.ErrorIs(t, s.LaunchApp(context.Background()), core.ErrConfiguration)
	assert.ErrorIs(t, s.InstallApp(context.Background()), core.ErrConfiguration)
	assert.Empty(t, d.Calls())
}

func TestCommandFailure(t *testing.T) {
	d := mock.New(mock.Config{})
	d.Fail("Execute", errors.New("app is not installed"), 1)

	err := newSupport(d).RestartApp(context.Background())

	assert.ErrorIs(t, err, core.ErrApp)
	assert.Equal(t, core.ErrCategoryApp, core.CategoryOf(err))
	assert.ErrorContains(t, err, "app is not installed")
	scripts, _ := executed(d)
	assert.Equal(t, []string{"mobile: terminateApp"}, scripts, "launch skipped after close failed")
}

func TestReboot(t *testing.T) {
	d := mock.New(mock.Config{})

	require.NoError(t, newSupport(d).Reboot(context.Background()))

	scripts, args := executed(d)
	assert.Equal(t, []string{"mobile:handset:reboot"}, scripts)
	assert.Empty(t, args[0])
}

func TestTurnOnLocationServices(t *testing.T) {
	d := mock.New(mock.Config{Source: `<XCUIElementTypeButton label="Settings"/>`})
	for i, loc := range []core.Locator{SettingsButton, LocationRow, WhileUsingApp, BackToAppButton} {
		d.AddElement(mock.Element{ID: string(rune('a' + i)), Locator: loc})
	}

	done, err := newSupport(d).TurnOnLocationServices(context.Background())

	require.NoError(t, err)
	assert.True(t, done)
	var clicked []interface{}
	for _, c := range d.Calls() {
		if c.Method == "Click" {
			clicked = append(clicked, c.Args[0])
		}
	}
	assert.Equal(t, []interface{}{"a", "b", "c", "d"}, clicked)
}

func TestTurnOnLocationServices_NoPrompt(t *testing.T) {
	d := mock.New(mock.Config{Source: `<XCUIElementTypeApplication name="Demo"/>`})

	done, err := newSupport(d).TurnOnLocationServices(context.Background())

	require.NoError(t, err)
	assert.False(t, done)
	assert.Zero(t, d.CallCount("Click"))
}

func TestTurnOnLocationServices_MissingStep(t *testing.T) {
	d := mock.New(mock.Config{Source: "Settings"}).AddElement(mock.Element{ID: "a", Locator: SettingsButton})

	_, err := newSupport(d).TurnOnLocationServices(context.Background())

	assert.ErrorIs(t, err, core.ErrElementNotFound)
}
