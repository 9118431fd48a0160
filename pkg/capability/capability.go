// Package capability builds the capability payload sent to a remote
// automation endpoint when a session is opened.
package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dibtr/grid-runner/pkg/config"
)

// ErrFrozen is returned by Set.Set after Freeze.
var ErrFrozen = errors.New("capability set is frozen")

// Mobile capability names, in the order they are sent.
const (
	AutomationName  = "automationName"
	PlatformName    = "platformName"
	PlatformVersion = "platformVersion"
	DeviceName      = "deviceName"
	App             = "app"
	BundleID        = "bundleId"
	XcodeOrgID      = "xcodeOrgId"
	XcodeSigningID  = "xcodeSigningId"
	ShowIOSLog      = "showIosLog"
	ShowXcodeLog    = "showXcodeLog"
	FullReset       = "fullReset"
	BrowserName     = "browserName"
)

// Capability names defined by W3C WebDriver; everything else needs a vendor prefix.
var w3cStandard = map[string]bool{
	"browserName":               true,
	"browserVersion":            true,
	"platformName":              true,
	"acceptInsecureCerts":       true,
	"pageLoadStrategy":          true,
	"proxy":                     true,
	"setWindowRect":             true,
	"timeouts":                  true,
	"strictFileInteractability": true,
	"unhandledPromptBehavior":   true,
	"webSocketUrl":              true,
}

// Set is an ordered name to value mapping.
type Set struct {
	keys   []string
	values map[string]interface{}
	frozen bool
}

// New returns an empty, mutable set.
func New() *Set {
	return &Set{values: make(map[string]interface{})}
}

// Set adds or replaces a capability. Replacing keeps the original position.
func (s *Set) Set(name string, value interface{}) error {
	if s.frozen {
		return fmt.Errorf("%w: cannot set %q", ErrFrozen, name)
	}
	if _, ok := s.values[name]; !ok {
		s.keys = append(s.keys, name)
	}
	s.values[name] = value
	return nil
}

// setString adds value unless it is empty.
func (s *Set) setString(name, value string) {
	if value != "" {
		_ = s.Set(name, value)
	}
}

// Get returns the value of name.
func (s *Set) Get(name string) (interface{}, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Keys returns capability names in insertion order.
func (s *Set) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Len returns the number of capabilities.
func (s *Set) Len() int { return len(s.keys) }

// Map returns a copy of the capabilities as a plain map.
func (s *Set) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(s.keys))
	for _, k := range s.keys {
		m[k] = s.values[k]
	}
	return m
}

// Freeze makes the set immutable and returns it.
func (s *Set) Freeze() *Set {
	s.frozen = true
	return s
}

// Frozen reports whether Freeze was called.
func (s *Set) Frozen() bool { return s.frozen }

// W3C returns a frozen copy with non-standard names carrying the "appium:"
// vendor prefix, as required inside alwaysMatch.
func (s *Set) W3C() *Set {
	out := New()
	for _, k := range s.keys {
		name := k
		if !w3cStandard[k] && !strings.Contains(k, ":") {
			name = "appium:" + k
		}
		_ = out.Set(name, s.values[k])
	}
	return out.Freeze()
}

// MarshalJSON encodes the set as a JSON object in insertion order.
func (s *Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.values[k])
		if err != nil {
			return nil, fmt.Errorf("capability %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String renders the set as JSON for logging.
func (s *Set) String() string {
	b, err := s.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", s.Map())
	}
	return string(b)
}

// NewSessionPayload is the body of POST /session. Both blocks are sent so
// pre-W3C endpoints still accept it.
type NewSessionPayload struct {
	Capabilities struct {
		AlwaysMatch *Set `json:"alwaysMatch"`
	} `json:"capabilities"`
	DesiredCapabilities *Set `json:"desiredCapabilities"`
}

// Payload returns the session creation body for s.
func (s *Set) Payload() NewSessionPayload {
	var p NewSessionPayload
	p.Capabilities.AlwaysMatch = s.W3C()
	p.DesiredCapabilities = s
	return p
}

// Request carries the per-session parameters of a mobile session.
type Request struct {
	PlatformVersion string
	DeviceName      string
	FullReset       bool
}

// Mobile builds the frozen capability set for an iOS session. Empty optional
// values are omitted so the endpoint applies its own defaults; fullReset is
// only sent when requested.
func Mobile(settings config.Settings, req Request) *Set {
	s := New()
	s.setString(AutomationName, settings.AutomationName())
	s.setString(PlatformName, settings.PlatformName())
	s.setString(PlatformVersion, req.PlatformVersion)
	s.setString(DeviceName, req.DeviceName)
	s.setString(App, settings.AppPath())
	s.setString(BundleID, settings.BundleID())
	s.setString(XcodeOrgID, settings.XcodeOrgID())
	s.setString(XcodeSigningID, settings.XcodeSigningID())
	_ = s.Set(ShowIOSLog, true)
	_ = s.Set(ShowXcodeLog, true)
	if req.FullReset {
		_ = s.Set(FullReset, true)
	}
	return s.Freeze()
}

// Web builds the frozen capability set for a browser session.
func Web(settings config.Settings) *Set {
	s := New()
	s.setString(BrowserName, settings.BrowserName())
	return s.Freeze()
}
