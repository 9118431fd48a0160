// Package web implements core.Driver for browsers on top of tebeka/selenium,
// either against a Selenium grid or a local chromedriver service.
package web

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/google/uuid"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"github.com/tebeka/selenium/firefox"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/logger"
)

// Supported browsers.
const (
	BrowserChrome  = "chrome"
	BrowserFirefox = "firefox"
)

// ErrUnknownElement is returned for element ids this driver never handed out.
var ErrUnknownElement = errors.New("stale element reference: unknown element id")

// Options selects the browser and where it runs.
type Options struct {
	Browser  string
	Headless bool
	// GridURL is the remote endpoint; ignored when ChromeDriverPath is set
	GridURL          string
	ChromeDriverPath string
	ChromeDriverPort int
}

// Capabilities builds the selenium capabilities for opts.
func Capabilities(opts Options) (selenium.Capabilities, error) {
	caps := selenium.Capabilities{"browserName": opts.Browser}
	switch opts.Browser {
	case BrowserChrome:
		var args []string
		if opts.Headless {
			args = append(args, "--headless=new", "--window-size=1920,1080")
		}
		caps.AddChrome(chrome.Capabilities{Args: args})
	case BrowserFirefox:
		var args []string
		if opts.Headless {
			args = append(args, "-headless")
		}
		caps.AddFirefox(firefox.Capabilities{Args: args})
	default:
		return nil, core.NewConfigurationError("web.browser.name", fmt.Errorf("unsupported browser %q", opts.Browser))
	}
	return caps, nil
}

// Driver is a core.Driver backed by a selenium.WebDriver.
type Driver struct {
	wd      selenium.WebDriver
	service *selenium.Service

	mu       sync.Mutex
	elements map[string]selenium.WebElement
	// ids handed out by the latest lookup of each locator
	byLocator map[core.Locator][]string
}

var _ core.Driver = (*Driver)(nil)

// New wraps an open WebDriver. service, if non-nil, is stopped on Quit.
func New(wd selenium.WebDriver, service *selenium.Service) *Driver {
	return &Driver{
		wd:        wd,
		service:   service,
		elements:  make(map[string]selenium.WebElement),
		byLocator: make(map[core.Locator][]string),
	}
}

// Open starts a browser session. With a chromedriver path a local service is
// started first; otherwise the session is created on the grid.
func Open(ctx context.Context, opts Options) (*Driver, error) {
	caps, err := Capabilities(opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	remote := opts.GridURL
	var service *selenium.Service
	if opts.ChromeDriverPath != "" && opts.Browser == BrowserChrome {
		port := opts.ChromeDriverPort
		if port == 0 {
			port = 9515
		}
		logger.Info("starting chromedriver: %s", shellescape.QuoteCommand([]string{opts.ChromeDriverPath, "--port=" + strconv.Itoa(port)}))
		service, err = selenium.NewChromeDriverService(opts.ChromeDriverPath, port, selenium.Output(logger.GetWriter()))
		if err != nil {
			return nil, fmt.Errorf("failed to start chromedriver: %w", err)
		}
		remote = fmt.Sprintf("http://localhost:%d", port)
	}
	if remote == "" {
		return nil, core.NewConfigurationError("environment.local.grid.location", core.ErrMissingRequired)
	}

	wd, err := selenium.NewRemote(caps, remote)
	if err != nil {
		if service != nil {
			_ = service.Stop()
		}
		return nil, err
	}
	return New(wd, service), nil
}

// WebDriver returns the underlying selenium handle.
func (d *Driver) WebDriver() selenium.WebDriver { return d.wd }

// Maximize maximizes the current window.
func (d *Driver) Maximize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.wd.MaximizeWindow("")
}

func (d *Driver) element(ctx context.Context, id string) (selenium.WebElement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	we, ok := d.elements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownElement, id)
	}
	return we, nil
}

// SessionID implements core.Driver.
func (d *Driver) SessionID() string { return d.wd.SessionID() }

// FindElements implements core.Driver. Elements are cached under fresh ids
// that replace the ids of the previous lookup of loc, so repeated polling
// keeps the cache at one entry per current match.
func (d *Driver) FindElements(ctx context.Context, loc core.Locator) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if loc.Strategy == "" {
		return nil, fmt.Errorf("locator %q has no strategy", loc.Value)
	}
	found, err := d.wd.FindElements(loc.Strategy, loc.Value)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.byLocator[loc] {
		delete(d.elements, id)
	}
	ids := make([]string, 0, len(found))
	for _, we := range found {
		id := uuid.NewString()
		d.elements[id] = we
		ids = append(ids, id)
	}
	d.byLocator[loc] = ids
	return ids, nil
}

// IsDisplayed implements core.Driver.
func (d *Driver) IsDisplayed(ctx context.Context, elementID string) (bool, error) {
	we, err := d.element(ctx, elementID)
	if err != nil {
		return false, err
	}
	return we.IsDisplayed()
}

// Text implements core.Driver.
func (d *Driver) Text(ctx context.Context, elementID string) (string, error) {
	we, err := d.element(ctx, elementID)
	if err != nil {
		return "", err
	}
	return we.Text()
}

// Attribute implements core.Driver.
func (d *Driver) Attribute(ctx context.Context, elementID, name string) (string, error) {
	we, err := d.element(ctx, elementID)
	if err != nil {
		return "", err
	}
	return we.GetAttribute(name)
}

// Rect implements core.Driver.
func (d *Driver) Rect(ctx context.Context, elementID string) (core.Bounds, error) {
	we, err := d.element(ctx, elementID)
	if err != nil {
		return core.Bounds{}, err
	}
	loc, err := we.Location()
	if err != nil {
		return core.Bounds{}, err
	}
	size, err := we.Size()
	if err != nil {
		return core.Bounds{}, err
	}
	return core.Bounds{X: loc.X, Y: loc.Y, Width: size.Width, Height: size.Height}, nil
}

// Click implements core.Driver.
func (d *Driver) Click(ctx context.Context, elementID string) error {
	we, err := d.element(ctx, elementID)
	if err != nil {
		return err
	}
	return we.Click()
}

// Clear implements core.Driver.
func (d *Driver) Clear(ctx context.Context, elementID string) error {
	we, err := d.element(ctx, elementID)
	if err != nil {
		return err
	}
	return we.Clear()
}

// SendKeys implements core.Driver.
func (d *Driver) SendKeys(ctx context.Context, elementID, text string) error {
	we, err := d.element(ctx, elementID)
	if err != nil {
		return err
	}
	return we.SendKeys(text)
}

// TapElement implements core.Driver. Browsers have no touch tap; it clicks.
func (d *Driver) TapElement(ctx context.Context, elementID string) error {
	return d.Click(ctx, elementID)
}

const (
	clickAtScript = `var el = document.elementFromPoint(arguments[0], arguments[1]);
if (!el) { throw new Error('no element at ' + arguments[0] + ',' + arguments[1]); }
el.click();`
	pressScript = `var el = document.elementFromPoint(arguments[0], arguments[1]);
if (!el) { throw new Error('no element at ' + arguments[0] + ',' + arguments[1]); }
el.dispatchEvent(new MouseEvent(arguments[2], {bubbles: true, clientX: arguments[0], clientY: arguments[1]}));`
)

// Tap implements core.Driver by clicking whatever is at the viewport point.
func (d *Driver) Tap(ctx context.Context, x, y int) error {
	_, err := d.Execute(ctx, clickAtScript, x, y)
	return err
}

// PressAndRelease implements core.Driver with synthetic mouse events.
func (d *Driver) PressAndRelease(ctx context.Context, x, y int, hold time.Duration) error {
	if _, err := d.Execute(ctx, pressScript, x, y, "mousedown"); err != nil {
		return err
	}
	t := time.NewTimer(hold)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	if _, err := d.Execute(ctx, pressScript, x, y, "mouseup"); err != nil {
		return err
	}
	return d.Tap(ctx, x, y)
}

// Execute implements core.Driver. core.ElementRef arguments are replaced by
// the cached selenium elements so they serialize as element references.
func (d *Driver) Execute(ctx context.Context, script string, args ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	converted := make([]interface{}, len(args))
	for i, a := range args {
		v, err := d.convertArg(a)
		if err != nil {
			return nil, err
		}
		converted[i] = v
	}
	return d.wd.ExecuteScript(script, converted)
}

func (d *Driver) convertArg(arg interface{}) (interface{}, error) {
	switch v := arg.(type) {
	case core.ElementRef:
		d.mu.Lock()
		we, ok := d.elements[string(v)]
		d.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownElement, v)
		}
		return we, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			c, err := d.convertArg(item)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			c, err := d.convertArg(item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		return arg, nil
	}
}

// HideKeyboard implements core.Driver. Desktop browsers have no soft keyboard.
func (d *Driver) HideKeyboard(ctx context.Context) error {
	return ctx.Err()
}

// Navigate implements core.Driver.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.wd.Get(url)
}

// Source implements core.Driver.
func (d *Driver) Source(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return d.wd.PageSource()
}

// Screenshot implements core.Driver.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.wd.Screenshot()
}

// Quit implements core.Driver. It ends the browser session and stops the
// local chromedriver, returning both failures joined.
func (d *Driver) Quit(ctx context.Context) error {
	var errs []error
	if err := d.wd.Quit(); err != nil {
		errs = append(errs, fmt.Errorf("quit browser: %w", err))
	}
	if d.service != nil {
		if err := d.service.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop chromedriver: %w", err))
		}
		d.service = nil
	}

	d.mu.Lock()
	d.elements = make(map[string]selenium.WebElement)
	d.byLocator = make(map[core.Locator][]string)
	d.mu.Unlock()
	return errors.Join(errs...)
}
