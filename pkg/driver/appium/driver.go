package appium

import (
	"context"
	"fmt"
	"time"

	"github.com/dibtr/grid-runner/pkg/core"
)

// Driver implements core.Driver using Appium server.
type Driver struct {
	client *Client
}

var _ core.Driver = (*Driver)(nil)

// NewDriver opens a session on serverURL. payload is the POST /session body,
// normally capability.Set.Payload().
func NewDriver(ctx context.Context, serverURL string, payload interface{}) (*Driver, error) {
	client := NewClient(serverURL)

	if err := client.Connect(ctx, payload); err != nil {
		return nil, err
	}

	return &Driver{client: client}, nil
}

// Client exposes the underlying HTTP client for endpoint calls outside core.Driver.
func (d *Driver) Client() *Client {
	return d.client
}

// SessionID implements core.Driver.
func (d *Driver) SessionID() string {
	return d.client.SessionID()
}

// SetImplicitWait sets the session implicit wait.
func (d *Driver) SetImplicitWait(ctx context.Context, timeout time.Duration) error {
	return d.client.SetImplicitWait(ctx, timeout)
}

// FindElements implements core.Driver.
func (d *Driver) FindElements(ctx context.Context, loc core.Locator) ([]string, error) {
	if loc.Strategy == "" {
		return nil, fmt.Errorf("locator %q has no strategy", loc.Value)
	}
	return d.client.FindElements(ctx, loc.Strategy, loc.Value)
}

// IsDisplayed implements core.Driver.
func (d *Driver) IsDisplayed(ctx context.Context, elementID string) (bool, error) {
	return d.client.IsElementDisplayed(ctx, elementID)
}

// Text implements core.Driver.
func (d *Driver) Text(ctx context.Context, elementID string) (string, error) {
	return d.client.GetElementText(ctx, elementID)
}

// Attribute implements core.Driver.
func (d *Driver) Attribute(ctx context.Context, elementID, name string) (string, error) {
	return d.client.GetElementAttribute(ctx, elementID, name)
}

// Rect implements core.Driver.
func (d *Driver) Rect(ctx context.Context, elementID string) (core.Bounds, error) {
	x, y, w, h, err := d.client.GetElementRect(ctx, elementID)
	if err != nil {
		return core.Bounds{}, err
	}
	return core.Bounds{X: x, Y: y, Width: w, Height: h}, nil
}

// Click implements core.Driver.
func (d *Driver) Click(ctx context.Context, elementID string) error {
	return d.client.ClickElement(ctx, elementID)
}

// Clear implements core.Driver.
func (d *Driver) Clear(ctx context.Context, elementID string) error {
	return d.client.ClearElement(ctx, elementID)
}

// SendKeys implements core.Driver.
func (d *Driver) SendKeys(ctx context.Context, elementID, text string) error {
	return d.client.SetElementValue(ctx, elementID, text)
}

// TapElement implements core.Driver.
func (d *Driver) TapElement(ctx context.Context, elementID string) error {
	return d.client.TapElement(ctx, elementID)
}

// Tap implements core.Driver.
func (d *Driver) Tap(ctx context.Context, x, y int) error {
	return d.client.Tap(ctx, x, y)
}

// PressAndRelease implements core.Driver.
func (d *Driver) PressAndRelease(ctx context.Context, x, y int, hold time.Duration) error {
	return d.client.PressAndRelease(ctx, x, y, hold)
}

// Execute implements core.Driver. ElementRef values, at the top level or
// inside map arguments, are sent as W3C element references.
func (d *Driver) Execute(ctx context.Context, script string, args ...interface{}) (interface{}, error) {
	converted := make([]interface{}, len(args))
	for i, a := range args {
		converted[i] = encodeArg(a)
	}
	return d.client.ExecuteScript(ctx, script, converted)
}

func encodeArg(a interface{}) interface{} {
	switch v := a.(type) {
	case core.ElementRef:
		return map[string]interface{}{w3cElementKey: string(v), "ELEMENT": string(v)}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = encodeArg(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = encodeArg(val)
		}
		return out
	default:
		return a
	}
}

// HideKeyboard implements core.Driver.
func (d *Driver) HideKeyboard(ctx context.Context) error {
	return d.client.HideKeyboard(ctx)
}

// Navigate implements core.Driver.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	return d.client.OpenURL(ctx, url)
}

// Source implements core.Driver.
func (d *Driver) Source(ctx context.Context) (string, error) {
	return d.client.Source(ctx)
}

// Screenshot implements core.Driver.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	return d.client.Screenshot(ctx)
}

// TerminateApp stops the app with the given bundle id.
func (d *Driver) TerminateApp(ctx context.Context, bundleID string) error {
	_, err := d.client.ExecuteMobile(ctx, "terminateApp", map[string]interface{}{"bundleId": bundleID})
	return err
}

// Quit implements core.Driver.
func (d *Driver) Quit(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
