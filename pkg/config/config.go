// Package config loads the runner settings. Settings are read once, at
// startup, and passed explicitly to every component; they cannot change after
// load.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/magiconair/properties"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides: environment.location is
// read from GRID_RUNNER_ENVIRONMENT_LOCATION.
const EnvPrefix = "GRID_RUNNER"

// Setting keys
const (
	KeyLocation        = "environment.location"
	KeyGridURL         = "environment.local.grid.location"
	KeyAppPath         = "mobile.device.app.path.local"
	KeyBundleID        = "mobile.appium.bundleId"
	KeyXcodeOrgID      = "mobile.appium.xcodeOrgId"
	KeyXcodeSigningID  = "mobile.appium.xcodeSigningId"
	KeyAutomationName  = "mobile.appium.automationName"
	KeyImplicitWait    = "mobile.appium.implicitWait"
	KeyPlatformName    = "mobile.platform.name"
	KeyBrowserName     = "web.browser.name"
	KeyChromeDriver    = "web.chrome.driver.path"
	KeyChromeDriverPrt = "web.chrome.driver.port"
	KeyHeadless        = "web.headless"
	KeyBaseURL         = "web.base.url"
	KeyWaitTimeout     = "wait.timeout"
	KeyWaitPoll        = "wait.poll"
	KeyScrollMaxSteps  = "scroll.max.steps"
	KeyTypeDelay       = "type.delay"
	KeyLogLevel        = "logger.level"
	KeyLogFile         = "logger.file"
	KeyLogMaxSize      = "logger.max.size"
	KeyLogMaxBackups   = "logger.max.backups"
	KeyLogMaxAge       = "logger.max.age"
	KeyLogCompress     = "logger.compress"
)

// Locations accepted by environment.location
const (
	LocationLocal  = "localhost"
	LocationGrid   = "grid"
	LocationRemote = "remote"
)

// Settings is an immutable snapshot of the runner configuration.
// Keys are case-insensitive.
type Settings struct {
	values map[string]string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyLocation, LocationLocal)
	v.SetDefault(KeyGridURL, "")
	v.SetDefault(KeyAppPath, "")
	v.SetDefault(KeyBundleID, "")
	v.SetDefault(KeyXcodeOrgID, "")
	v.SetDefault(KeyXcodeSigningID, "")
	v.SetDefault(KeyAutomationName, "XCUITest")
	v.SetDefault(KeyImplicitWait, "0s")
	v.SetDefault(KeyPlatformName, "iOS")

	v.SetDefault(KeyBrowserName, "chrome")
	v.SetDefault(KeyChromeDriver, "")
	v.SetDefault(KeyChromeDriverPrt, 9515)
	v.SetDefault(KeyHeadless, false)
	v.SetDefault(KeyBaseURL, "")

	v.SetDefault(KeyWaitTimeout, "60s")
	v.SetDefault(KeyWaitPoll, "500ms")
	v.SetDefault(KeyScrollMaxSteps, 1)
	v.SetDefault(KeyTypeDelay, "200ms")

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSize, 100)
	v.SetDefault(KeyLogMaxBackups, 5)
	v.SetDefault(KeyLogMaxAge, 30)
	v.SetDefault(KeyLogCompress, false)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads settings from a .properties, .yaml or .json file. Environment
// overrides win over file values, file values over defaults.
func Load(path string) (Settings, error) {
	v := newViper()
	if err := readFile(v, path); err != nil {
		return Settings{}, core.NewConfigurationError(path, fmt.Errorf("reading settings: %w", err))
	}
	return fromViper(v), nil
}

// readFile merges the file at path into v. viper has no decoder for Java
// properties, so those are parsed with magiconair/properties and merged as
// nested maps.
func readFile(v *viper.Viper, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".properties", ".props", ".prop":
		p, err := properties.LoadFile(path, properties.UTF8)
		if err != nil {
			return err
		}
		return v.MergeConfigMap(nest(p.Map()))
	default:
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
}

// nest turns dotted keys into nested maps: a.b=1 becomes {a: {b: 1}}.
// A key that is also the prefix of another key loses to the longer one.
func nest(flat map[string]string) map[string]interface{} {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := make(map[string]interface{})
	for _, key := range keys {
		parts := strings.Split(strings.ToLower(key), ".")
		m := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := m[part].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				m[part] = child
			}
			m = child
		}
		last := parts[len(parts)-1]
		if _, isMap := m[last].(map[string]interface{}); !isMap {
			m[last] = flat[key]
		}
	}
	return root
}

// FromMap builds settings from explicit values layered over the defaults.
func FromMap(values map[string]string) Settings {
	v := newViper()
	for k, val := range values {
		v.Set(k, val)
	}
	return fromViper(v)
}

// Default returns the default settings plus any environment overrides.
func Default() Settings {
	return fromViper(newViper())
}

func fromViper(v *viper.Viper) Settings {
	values := make(map[string]string)
	for _, k := range v.AllKeys() {
		values[k] = v.GetString(k)
	}
	return Settings{values: values}
}

// Get returns the raw value of key, or "" when unset.
func (s Settings) Get(key string) string {
	return strings.TrimSpace(s.values[strings.ToLower(key)])
}

// GetBool parses key as a boolean; unset or malformed values are false.
func (s Settings) GetBool(key string) bool {
	b, _ := strconv.ParseBool(s.Get(key))
	return b
}

// GetInt parses key as an integer, returning def when unset or malformed.
func (s Settings) GetInt(key string, def int) int {
	n, err := strconv.Atoi(s.Get(key))
	if err != nil {
		return def
	}
	return n
}

// GetDuration parses key as a Go duration ("500ms") or a bare number of
// milliseconds, returning def when unset or malformed.
func (s Settings) GetDuration(key string, def time.Duration) time.Duration {
	d, err := parseDuration(s.Get(key))
	if err != nil {
		return def
	}
	return d
}

func parseDuration(raw string) (time.Duration, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}

// Keys returns all known keys, sorted.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Location returns environment.location, lowercased.
func (s Settings) Location() string { return strings.ToLower(s.Get(KeyLocation)) }

// AppPath returns the local app bundle to install, if any.
func (s Settings) AppPath() string { return s.Get(KeyAppPath) }

// BundleID returns the bundle id of the app under test.
func (s Settings) BundleID() string { return s.Get(KeyBundleID) }

// XcodeOrgID returns the signing team id for real devices.
func (s Settings) XcodeOrgID() string { return s.Get(KeyXcodeOrgID) }

// XcodeSigningID returns the signing identity for real devices.
func (s Settings) XcodeSigningID() string { return s.Get(KeyXcodeSigningID) }

// AutomationName returns the Appium automation backend (XCUITest by default).
func (s Settings) AutomationName() string { return s.Get(KeyAutomationName) }

// PlatformName returns the mobile platform name (iOS by default).
func (s Settings) PlatformName() string { return s.Get(KeyPlatformName) }

// ImplicitWait is applied to mobile sessions after open. Keep it at zero
// unless locator calls outside the resolver need it: a non-zero implicit
// wait stretches every poll of the resolver.
func (s Settings) ImplicitWait() time.Duration { return s.GetDuration(KeyImplicitWait, 0) }

// BrowserName returns web.browser.name, lowercased.
func (s Settings) BrowserName() string { return strings.ToLower(s.Get(KeyBrowserName)) }

// ChromeDriverPath returns the local chromedriver binary. Empty means use the grid.
func (s Settings) ChromeDriverPath() string { return s.Get(KeyChromeDriver) }

// ChromeDriverPort returns the port of the local chromedriver service.
func (s Settings) ChromeDriverPort() int { return s.GetInt(KeyChromeDriverPrt, 9515) }

// Headless reports whether browsers run without a window.
func (s Settings) Headless() bool { return s.GetBool(KeyHeadless) }

// BaseURL returns the URL relative navigation targets resolve against.
func (s Settings) BaseURL() string { return s.Get(KeyBaseURL) }

// WaitPolicy returns the configured default resolver wait.
func (s Settings) WaitPolicy() core.WaitPolicy {
	return core.WaitPolicy{
		Timeout:      s.GetDuration(KeyWaitTimeout, core.DefaultWaitTimeout),
		PollInterval: s.GetDuration(KeyWaitPoll, core.DefaultPollInterval),
	}.WithDefaults()
}

// ScrollMaxSteps bounds the scroll-search loop.
func (s Settings) ScrollMaxSteps() int { return s.GetInt(KeyScrollMaxSteps, 1) }

// TypeDelay is the pause between characters for slow typing.
func (s Settings) TypeDelay() time.Duration { return s.GetDuration(KeyTypeDelay, 200*time.Millisecond) }

// LoggerSettings configures pkg/logger.
type LoggerSettings struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger returns the logger.* settings.
func (s Settings) Logger() LoggerSettings {
	return LoggerSettings{
		Level:      s.Get(KeyLogLevel),
		File:       s.Get(KeyLogFile),
		MaxSizeMB:  s.GetInt(KeyLogMaxSize, 100),
		MaxBackups: s.GetInt(KeyLogMaxBackups, 5),
		MaxAgeDays: s.GetInt(KeyLogMaxAge, 30),
		Compress:   s.GetBool(KeyLogCompress),
	}
}

// GridURL returns the remote automation endpoint.
func (s Settings) GridURL() (*url.URL, error) {
	raw := s.Get(KeyGridURL)
	if raw == "" {
		return nil, core.NewConfigurationError(KeyGridURL, core.ErrMissingRequired)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, core.NewConfigurationError(KeyGridURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, core.NewConfigurationError(KeyGridURL, fmt.Errorf("%q is not an http(s) URL", raw))
	}
	return u, nil
}

// UsesLocalChromeDriver reports whether web sessions start their own
// chromedriver instead of connecting to the grid.
func (s Settings) UsesLocalChromeDriver() bool {
	return s.Location() == LocationLocal && s.ChromeDriverPath() != ""
}

// Validate checks the settings needed to start a session on platform.
func (s Settings) Validate(platform core.Platform) error {
	switch s.Location() {
	case LocationLocal, LocationGrid, LocationRemote:
	default:
		return core.NewConfigurationError(KeyLocation, fmt.Errorf("unsupported location %q", s.Get(KeyLocation)))
	}

	for _, key := range []string{KeyWaitTimeout, KeyWaitPoll, KeyTypeDelay, KeyImplicitWait} {
		if _, err := parseDuration(s.Get(key)); err != nil {
			return core.NewConfigurationError(key, err)
		}
	}
	if n, err := strconv.Atoi(s.Get(KeyScrollMaxSteps)); err != nil || n < 1 {
		return core.NewConfigurationError(KeyScrollMaxSteps, fmt.Errorf("must be a positive integer, got %q", s.Get(KeyScrollMaxSteps)))
	}

	switch platform {
	case core.PlatformMobile:
		_, err := s.GridURL()
		return err
	case core.PlatformWeb:
		switch s.BrowserName() {
		case "chrome", "firefox":
		default:
			return core.NewConfigurationError(KeyBrowserName, fmt.Errorf("unsupported browser %q", s.Get(KeyBrowserName)))
		}
		if s.UsesLocalChromeDriver() && s.BrowserName() == "chrome" {
			return nil
		}
		_, err := s.GridURL()
		return err
	default:
		return core.NewConfigurationError("platform", fmt.Errorf("unknown platform %q", platform))
	}
}
