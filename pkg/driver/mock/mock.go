// Package mock provides a scriptable core.Driver for testing without a real
// device or browser. Elements can appear or become visible after a delay,
// errors can be injected per method, and every call is recorded.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dibtr/grid-runner/pkg/core"
)

// Errors returned by the mock.
var (
	ErrSessionClosed = errors.New("invalid session id: session was quit")
	ErrStaleElement  = errors.New("stale element reference")
)

// PNG header returned as the default screenshot.
var defaultScreenshot = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// Config configures mock driver behavior.
type Config struct {
	SessionID string
	// CallDelay adds artificial latency to every call
	CallDelay time.Duration
	// Source is returned by Source
	Source string
	// Screenshot is returned by Screenshot; defaults to a PNG header
	Screenshot []byte
	// OnExecute, if set, is called for every Execute after it is recorded.
	// It may call back into the driver.
	OnExecute func(script string, args []interface{}) (interface{}, error)
}

// Element is a fake UI element.
type Element struct {
	ID         string
	Locator    core.Locator
	Text       string
	Attributes map[string]string
	Bounds     core.Bounds
	// AppearAfter delays the element showing up in FindElements
	AppearAfter time.Duration
	// VisibleAfter delays IsDisplayed reporting true
	VisibleAfter time.Duration
	// Hidden keeps IsDisplayed false until Show is called
	Hidden bool

	added   time.Time
	removed bool
}

// Call is one recorded driver call.
type Call struct {
	Method string
	Args   []interface{}
}

type injected struct {
	err   error
	times int // remaining; negative means forever
}

// Driver is a mock implementation of core.Driver.
type Driver struct {
	mu       sync.Mutex
	cfg      Config
	elements []*Element
	calls    []Call
	failures map[string]*injected
	url      string
	quit     bool
}

var _ core.Driver = (*Driver)(nil)

// New creates a new mock driver.
func New(cfg Config) *Driver {
	if cfg.SessionID == "" {
		cfg.SessionID = "mock-session"
	}
	if cfg.Screenshot == nil {
		cfg.Screenshot = defaultScreenshot
	}
	return &Driver{cfg: cfg, failures: make(map[string]*injected)}
}

// AddElement registers an element. Its delays count from now.
func (d *Driver) AddElement(e Element) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.ID == "" {
		e.ID = fmt.Sprintf("el-%d", len(d.elements)+1)
	}
	e.added = time.Now()
	d.elements = append(d.elements, &e)
	return d
}

// Show makes an element displayed immediately.
func (d *Driver) Show(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.lookup(id); e != nil {
		e.Hidden = false
		e.VisibleAfter = 0
		e.AppearAfter = 0
	}
}

// Hide makes an element not displayed.
func (d *Driver) Hide(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.lookup(id); e != nil {
		e.Hidden = true
	}
}

// Remove detaches an element; later calls with its id report a stale element.
func (d *Driver) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.lookup(id); e != nil {
		e.removed = true
	}
}

// Fail makes the next times calls of method return err. times < 0 fails forever.
func (d *Driver) Fail(method string, err error, times int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[method] = &injected{err: err, times: times}
}

// Calls returns a copy of all recorded calls.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallCount returns how many times method was called.
func (d *Driver) CallCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Scripts returns the scripts passed to Execute, in order.
func (d *Driver) Scripts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, c := range d.calls {
		if c.Method == "Execute" {
			out = append(out, c.Args[0].(string))
		}
	}
	return out
}

// URL returns the last navigated URL.
func (d *Driver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Quitted reports whether Quit succeeded.
func (d *Driver) Quitted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quit
}

// begin records a call and returns the error it should fail with, if any.
func (d *Driver) begin(ctx context.Context, method string, args ...interface{}) error {
	d.mu.Lock()
	d.calls = append(d.calls, Call{Method: method, Args: args})
	quit := d.quit
	var injectedErr error
	if f, ok := d.failures[method]; ok && f.times != 0 {
		injectedErr = f.err
		if f.times > 0 {
			f.times--
		}
	}
	delay := d.cfg.CallDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if quit {
		return ErrSessionClosed
	}
	return injectedErr
}

func (d *Driver) lookup(id string) *Element {
	for _, e := range d.elements {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (e *Element) present(now time.Time) bool {
	return !e.removed && !now.Before(e.added.Add(e.AppearAfter))
}

// live returns the element for id, or ErrStaleElement.
func (d *Driver) live(id string) (*Element, error) {
	e := d.lookup(id)
	if e == nil || !e.present(time.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrStaleElement, id)
	}
	return e, nil
}

// SessionID implements core.Driver.
func (d *Driver) SessionID() string {
	return d.cfg.SessionID
}

// FindElements implements core.Driver.
func (d *Driver) FindElements(ctx context.Context, loc core.Locator) ([]string, error) {
	if err := d.begin(ctx, "FindElements", loc); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	var ids []string
	for _, e := range d.elements {
		if e.Locator == loc && e.present(now) {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

// IsDisplayed implements core.Driver.
func (d *Driver) IsDisplayed(ctx context.Context, elementID string) (bool, error) {
	if err := d.begin(ctx, "IsDisplayed", elementID); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.live(elementID)
	if err != nil {
		return false, err
	}
	return !e.Hidden && !time.Now().Before(e.added.Add(e.VisibleAfter)), nil
}

// Text implements core.Driver.
func (d *Driver) Text(ctx context.Context, elementID string) (string, error) {
	if err := d.begin(ctx, "Text", elementID); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.live(elementID)
	if err != nil {
		return "", err
	}
	return e.Text, nil
}

// Attribute implements core.Driver.
func (d *Driver) Attribute(ctx context.Context, elementID, name string) (string, error) {
	if err := d.begin(ctx, "Attribute", elementID, name); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.live(elementID)
	if err != nil {
		return "", err
	}
	return e.Attributes[name], nil
}

// Rect implements core.Driver.
func (d *Driver) Rect(ctx context.Context, elementID string) (core.Bounds, error) {
	if err := d.begin(ctx, "Rect", elementID); err != nil {
		return core.Bounds{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.live(elementID)
	if err != nil {
		return core.Bounds{}, err
	}
	return e.Bounds, nil
}

// elementCall records an element action and checks the element is live.
func (d *Driver) elementCall(ctx context.Context, method, elementID string, args ...interface{}) (*Element, error) {
	if err := d.begin(ctx, method, append([]interface{}{elementID}, args...)...); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live(elementID)
}

// Click implements core.Driver.
func (d *Driver) Click(ctx context.Context, elementID string) error {
	_, err := d.elementCall(ctx, "Click", elementID)
	return err
}

// Clear implements core.Driver. It empties the element text.
func (d *Driver) Clear(ctx context.Context, elementID string) error {
	e, err := d.elementCall(ctx, "Clear", elementID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	e.Text = ""
	d.mu.Unlock()
	return nil
}

// SendKeys implements core.Driver. It appends to the element text.
func (d *Driver) SendKeys(ctx context.Context, elementID, text string) error {
	e, err := d.elementCall(ctx, "SendKeys", elementID, text)
	if err != nil {
		return err
	}
	d.mu.Lock()
	e.Text += text
	d.mu.Unlock()
	return nil
}

// TapElement implements core.Driver.
func (d *Driver) TapElement(ctx context.Context, elementID string) error {
	_, err := d.elementCall(ctx, "TapElement", elementID)
	return err
}

// Tap implements core.Driver.
func (d *Driver) Tap(ctx context.Context, x, y int) error {
	return d.begin(ctx, "Tap", x, y)
}

// PressAndRelease implements core.Driver.
func (d *Driver) PressAndRelease(ctx context.Context, x, y int, hold time.Duration) error {
	return d.begin(ctx, "PressAndRelease", x, y, hold)
}

// Execute implements core.Driver.
func (d *Driver) Execute(ctx context.Context, script string, args ...interface{}) (interface{}, error) {
	if err := d.begin(ctx, "Execute", append([]interface{}{script}, args...)...); err != nil {
		return nil, err
	}
	if d.cfg.OnExecute != nil {
		return d.cfg.OnExecute(script, args)
	}
	return nil, nil
}

// HideKeyboard implements core.Driver.
func (d *Driver) HideKeyboard(ctx context.Context) error {
	return d.begin(ctx, "HideKeyboard")
}

// Navigate implements core.Driver.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.begin(ctx, "Navigate", url); err != nil {
		return err
	}
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
	return nil
}

// Source implements core.Driver.
func (d *Driver) Source(ctx context.Context) (string, error) {
	if err := d.begin(ctx, "Source"); err != nil {
		return "", err
	}
	return d.cfg.Source, nil
}

// Screenshot implements core.Driver.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := d.begin(ctx, "Screenshot"); err != nil {
		return nil, err
	}
	return d.cfg.Screenshot, nil
}

// Quit implements core.Driver.
func (d *Driver) Quit(ctx context.Context) error {
	if err := d.begin(ctx, "Quit"); err != nil {
		return err
	}
	d.mu.Lock()
	d.quit = true
	d.mu.Unlock()
	return nil
}
