package core

import (
	"context"
	"fmt"
	"time"
)

// Platform tags the kind of session a driver handle controls.
type Platform string

// Platform values
const (
	PlatformMobile Platform = "mobile" // Appium-driven device or simulator
	PlatformWeb    Platform = "web"    // WebDriver-driven browser
)

// Driver is the opaque handle to one live remote automation session.
// Implementations: appium (W3C over HTTP), web (tebeka/selenium), mock.
// A Driver is owned by a single worker and is not required to be goroutine safe.
type Driver interface {
	// SessionID returns the remote session identifier
	SessionID() string

	// FindElements returns the IDs of all elements matching the locator.
	// An empty result is not an error.
	FindElements(ctx context.Context, loc Locator) ([]string, error)

	// Element state and data
	IsDisplayed(ctx context.Context, elementID string) (bool, error)
	Text(ctx context.Context, elementID string) (string, error)
	Attribute(ctx context.Context, elementID, name string) (string, error)
	Rect(ctx context.Context, elementID string) (Bounds, error)

	// Element actions
	Click(ctx context.Context, elementID string) error
	Clear(ctx context.Context, elementID string) error
	SendKeys(ctx context.Context, elementID, text string) error
	TapElement(ctx context.Context, elementID string) error

	// Pointer actions in viewport coordinates
	Tap(ctx context.Context, x, y int) error
	PressAndRelease(ctx context.Context, x, y int, hold time.Duration) error

	// Execute runs a script. Mobile drivers accept "mobile: <command>" scripts.
	// ElementRef arguments are converted to the driver's element encoding.
	Execute(ctx context.Context, script string, args ...interface{}) (interface{}, error)

	HideKeyboard(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	Source(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)

	// Quit ends the remote session
	Quit(ctx context.Context) error
}

// ElementRef marks a script argument as an element reference.
type ElementRef string

// Locator strategies understood by Appium and W3C WebDriver endpoints.
const (
	StrategyAccessibilityID = "accessibility id"
	StrategyPredicate       = "-ios predicate string"
	StrategyClassChain      = "-ios class chain"
	StrategyXPath           = "xpath"
	StrategyID              = "id"
	StrategyName            = "name"
	StrategyClassName       = "class name"
	StrategyCSS             = "css selector"
)

// Locator identifies zero or more UI elements. Locators are plain values.
type Locator struct {
	Strategy string `json:"using" yaml:"using"`
	Value    string `json:"value" yaml:"value"`
}

// AccessibilityID locates by accessibility identifier.
func AccessibilityID(id string) Locator { return Locator{Strategy: StrategyAccessibilityID, Value: id} }

// Predicate locates by an iOS NSPredicate string.
func Predicate(p string) Locator { return Locator{Strategy: StrategyPredicate, Value: p} }

// ClassChain locates by an iOS class chain query.
func ClassChain(q string) Locator { return Locator{Strategy: StrategyClassChain, Value: q} }

// XPath locates by path expression.
func XPath(expr string) Locator { return Locator{Strategy: StrategyXPath, Value: expr} }

// ID locates by element id.
func ID(id string) Locator { return Locator{Strategy: StrategyID, Value: id} }

// Name locates by element name.
func Name(name string) Locator { return Locator{Strategy: StrategyName, Value: name} }

// ClassName locates by element class/type.
func ClassName(name string) Locator { return Locator{Strategy: StrategyClassName, Value: name} }

// CSS locates by CSS selector (web only).
func CSS(sel string) Locator { return Locator{Strategy: StrategyCSS, Value: sel} }

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool {
	return l.Strategy == "" && l.Value == ""
}

// String returns strategy=value
func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.Strategy, l.Value)
}

// Element is a resolved UI element handle.
type Element struct {
	ID      string  `json:"id"`
	Locator Locator `json:"locator"`
}

// Default wait values.
const (
	DefaultWaitTimeout  = 60 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	slowPollInterval    = 1000 * time.Millisecond
)

// WaitPolicy bounds a polling wait. It is attached to a call, never to a session.
type WaitPolicy struct {
	Timeout      time.Duration `json:"timeout"`
	PollInterval time.Duration `json:"pollInterval"`
}

// DefaultWaitPolicy returns the 60s/500ms policy.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{Timeout: DefaultWaitTimeout, PollInterval: DefaultPollInterval}
}

// MobileWaitPolicy polls every 500ms regardless of timeout.
func MobileWaitPolicy(timeout time.Duration) WaitPolicy {
	return WaitPolicy{Timeout: timeout, PollInterval: DefaultPollInterval}.WithDefaults()
}

// WebWaitPolicy polls every 500ms up to a 60s timeout and every second beyond it.
func WebWaitPolicy(timeout time.Duration) WaitPolicy {
	p := WaitPolicy{Timeout: timeout, PollInterval: DefaultPollInterval}.WithDefaults()
	if p.Timeout > DefaultWaitTimeout {
		p.PollInterval = slowPollInterval
	}
	return p
}

// WithDefaults fills zero or negative fields with the defaults.
func (p WaitPolicy) WithDefaults() WaitPolicy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultWaitTimeout
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	return p
}

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// Point is a viewport coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}
