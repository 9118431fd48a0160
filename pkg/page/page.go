// Package page is the interaction facade scenarios talk to. A Page is bound to
// one driver handle; every operation resolves its element through the resolver
// with a per-call wait and refuses to run unless the owning session is active.
package page

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/logger"
	"github.com/dibtr/grid-runner/pkg/resolver"
	"github.com/dibtr/grid-runner/pkg/scroll"
)

// Defaults for interaction timing.
const (
	DefaultTypeDelay     = 200 * time.Millisecond
	DefaultKeyboardWait  = 10 * time.Second
	scrollIntoViewPause  = 500 * time.Millisecond
	scrollIntoViewScript = "arguments[0].scrollIntoView(true);"
)

// ReturnKey is the keyboard button used to dismiss the iOS keyboard.
var ReturnKey = core.XPath("//XCUIElementTypeButton[@name='Return']")

// StateFunc reports the owning session's state.
type StateFunc func() core.SessionState

// Options configures a Page.
type Options struct {
	Platform  core.Platform
	Wait      core.WaitPolicy // used when an operation passes a zero timeout
	TypeDelay time.Duration
	// KeyboardWait bounds the search for the Return key; defaults to DefaultKeyboardWait
	KeyboardWait time.Duration
	BaseURL      string // relative Navigate targets are resolved against it
	Scroll       *scroll.Engine
}

// Page drives one session's UI.
type Page struct {
	d     core.Driver
	opts  Options
	state StateFunc
}

// New binds a page to d. Until Bind is called the page treats its session as active.
func New(d core.Driver, opts Options) *Page {
	opts.Wait = opts.Wait.WithDefaults()
	if opts.TypeDelay <= 0 {
		opts.TypeDelay = DefaultTypeDelay
	}
	if opts.KeyboardWait <= 0 {
		opts.KeyboardWait = DefaultKeyboardWait
	}
	if opts.Scroll == nil {
		opts.Scroll = scroll.New(scroll.DefaultMaxSteps)
	}
	if opts.Platform == "" {
		opts.Platform = core.PlatformMobile
	}
	return &Page{d: d, opts: opts}
}

// Bind attaches the owning session's state probe.
func (p *Page) Bind(state StateFunc) {
	p.state = state
}

// Driver returns the underlying handle.
func (p *Page) Driver() core.Driver { return p.d }

// Platform returns the platform the page drives.
func (p *Page) Platform() core.Platform { return p.opts.Platform }

func (p *Page) log() *zap.Logger {
	return logger.With(zap.String("session", p.d.SessionID()), zap.String("platform", string(p.opts.Platform)))
}

// policy converts a per-call timeout into a wait policy. Zero means the page default.
func (p *Page) policy(timeout time.Duration) core.WaitPolicy {
	if timeout <= 0 {
		timeout = p.opts.Wait.Timeout
	}
	if p.opts.Platform == core.PlatformWeb {
		return core.WebWaitPolicy(timeout)
	}
	return core.WaitPolicy{Timeout: timeout, PollInterval: p.opts.Wait.PollInterval}
}

// run guards op with the session state and logs its intent and outcome.
func (p *Page) run(op string, target fmt.Stringer, fn func() error) error {
	if p.state != nil {
		if s := p.state(); s != core.SessionActive {
			return core.ErrSessionInactive.WithMessage(fmt.Sprintf("%s: session is %s", op, s))
		}
	}

	log := p.log().With(zap.String("op", op))
	if target != nil {
		log = log.With(zap.Stringer("target", target))
	}
	log.Debug("start")
	start := time.Now()
	err := fn()
	if err != nil {
		log.Warn("failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return err
	}
	log.Debug("done", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (p *Page) resolve(ctx context.Context, loc core.Locator, timeout time.Duration) (*core.Element, error) {
	return resolver.Resolve(ctx, p.d, loc, p.policy(timeout))
}

// Find waits for loc to be displayed and returns the element.
func (p *Page) Find(ctx context.Context, loc core.Locator, timeout time.Duration) (*core.Element, error) {
	var el *core.Element
	err := p.run("find", loc, func() error {
		var err error
		el, err = p.resolve(ctx, loc, timeout)
		return err
	})
	return el, err
}

// Click waits for loc to be displayed and clicks it.
func (p *Page) Click(ctx context.Context, loc core.Locator, timeout time.Duration) error {
	return p.run("click", loc, func() error {
		el, err := p.resolve(ctx, loc, timeout)
		if err != nil {
			return err
		}
		if err := p.d.Click(ctx, el.ID); err != nil {
			return fmt.Errorf("click %s: %w", loc, err)
		}
		return nil
	})
}

// ClickElement clicks an element resolved earlier.
func (p *Page) ClickElement(ctx context.Context, el *core.Element) error {
	return p.run("clickElement", el.Locator, func() error {
		if err := p.d.Click(ctx, el.ID); err != nil {
			return fmt.Errorf("click %s: %w", el.Locator, err)
		}
		return nil
	})
}

// Tap waits for loc and taps it with a touch action.
func (p *Page) Tap(ctx context.Context, loc core.Locator, timeout time.Duration) error {
	return p.run("tap", loc, func() error {
		el, err := p.resolve(ctx, loc, timeout)
		if err != nil {
			return err
		}
		if err := p.d.TapElement(ctx, el.ID); err != nil {
			return fmt.Errorf("tap %s: %w", loc, err)
		}
		return nil
	})
}

// Type clicks loc, clears it and enters text.
func (p *Page) Type(ctx context.Context, loc core.Locator, text string, timeout time.Duration) error {
	return p.run("type", loc, func() error {
		el, err := p.resolve(ctx, loc, timeout)
		if err != nil {
			return err
		}
		if err := p.d.Click(ctx, el.ID); err != nil {
			return fmt.Errorf("focus %s: %w", loc, err)
		}
		if err := p.d.Clear(ctx, el.ID); err != nil {
			return fmt.Errorf("clear %s: %w", loc, err)
		}
		if err := p.d.SendKeys(ctx, el.ID, text); err != nil {
			return fmt.Errorf("type into %s: %w", loc, err)
		}
		return nil
	})
}

// TypeSlowly enters text one character at a time with the configured delay,
// then dismisses the keyboard. A keyboard that cannot be dismissed is logged only.
func (p *Page) TypeSlowly(ctx context.Context, loc core.Locator, text string, timeout time.Duration) error {
	err := p.run("typeSlowly", loc, func() error {
		el, err := p.resolve(ctx, loc, timeout)
		if err != nil {
			return err
		}
		if err := p.d.Click(ctx, el.ID); err != nil {
			return fmt.Errorf("focus %s: %w", loc, err)
		}
		for _, r := range text {
			if err := p.d.SendKeys(ctx, el.ID, string(r)); err != nil {
				return fmt.Errorf("type into %s: %w", loc, err)
			}
			if err := sleep(ctx, p.opts.TypeDelay); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := p.HideKeyboard(ctx); err != nil {
		p.log().Info("keyboard not dismissed", zap.Error(err))
	}
	return nil
}

// GetText returns the text of the first displayed match of loc.
func (p *Page) GetText(ctx context.Context, loc core.Locator, timeout time.Duration) (string, error) {
	var text string
	err := p.run("getText", loc, func() error {
		el, err := p.resolve(ctx, loc, timeout)
		if err != nil {
			return err
		}
		text, err = p.d.Text(ctx, el.ID)
		if err != nil {
			return fmt.Errorf("text of %s: %w", loc, err)
		}
		return nil
	})
	return text, err
}

// GetElementList waits until loc matches at least one element and returns all matches.
func (p *Page) GetElementList(ctx context.Context, loc core.Locator, timeout time.Duration) ([]*core.Element, error) {
	var list []*core.Element
	err := p.run("getElementList", loc, func() error {
		var err error
		list, err = resolver.ResolveAll(ctx, p.d, loc, p.policy(timeout))
		return err
	})
	return list, err
}

// IsPresent reports whether loc becomes displayed within timeout.
// Any failure, including an inactive session, is reported as false.
func (p *Page) IsPresent(ctx context.Context, loc core.Locator, timeout time.Duration) bool {
	present := false
	_ = p.run("isPresent", loc, func() error {
		_, err := p.resolve(ctx, loc, timeout)
		present = err == nil
		return nil
	})
	return present
}

// WaitFor waits for loc and logs the outcome. It never fails the caller.
func (p *Page) WaitFor(ctx context.Context, loc core.Locator, timeout time.Duration) bool {
	err := p.run("waitFor", loc, func() error {
		_, err := p.resolve(ctx, loc, timeout)
		return err
	})
	if err != nil {
		p.log().Info("element did not appear", zap.Stringer("target", loc), zap.Error(err))
		return false
	}
	return true
}

// WaitGone waits until no match of loc is displayed.
func (p *Page) WaitGone(ctx context.Context, loc core.Locator, timeout time.Duration) error {
	return p.run("waitGone", loc, func() error {
		return resolver.WaitGone(ctx, p.d, loc, p.policy(timeout))
	})
}

// TapAt taps a viewport coordinate.
func (p *Page) TapAt(ctx context.Context, x, y int) error {
	pt := core.Point{X: x, Y: y}
	return p.run("tapAt", point(pt), func() error {
		return p.d.Tap(ctx, x, y)
	})
}

// ClickAt presses at pt, holds for one poll interval and releases.
func (p *Page) ClickAt(ctx context.Context, pt core.Point) error {
	return p.run("clickAt", point(pt), func() error {
		return p.d.PressAndRelease(ctx, pt.X, pt.Y, p.opts.Wait.PollInterval)
	})
}

// CenterOf returns the centre of the first displayed match of loc.
func (p *Page) CenterOf(ctx context.Context, loc core.Locator, timeout time.Duration) (core.Point, error) {
	var pt core.Point
	err := p.run("centerOf", loc, func() error {
		el, err := p.resolve(ctx, loc, timeout)
		if err != nil {
			return err
		}
		b, err := p.d.Rect(ctx, el.ID)
		if err != nil {
			return fmt.Errorf("bounds of %s: %w", loc, err)
		}
		pt.X, pt.Y = b.Center()
		return nil
	})
	return pt, err
}

// Source returns the current page source.
func (p *Page) Source(ctx context.Context) (string, error) {
	var src string
	err := p.run("source", nil, func() error {
		var err error
		src, err = p.d.Source(ctx)
		return err
	})
	return src, err
}

// Screenshot returns a PNG of the current screen.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var png []byte
	err := p.run("screenshot", nil, func() error {
		var err error
		png, err = p.d.Screenshot(ctx)
		return err
	})
	return png, err
}

// ScrollTo runs a bounded scroll search. Not finding the target is not an error.
func (p *Page) ScrollTo(ctx context.Context, req scroll.Request) error {
	return p.run("scrollTo", req.Target, func() error {
		return p.opts.Scroll.ScrollToVisible(ctx, p.d, req)
	})
}

// ScrollDown scrolls the application down looking for target.
func (p *Page) ScrollDown(ctx context.Context, target core.Locator) error {
	return p.run("scrollDown", target, func() error {
		return p.opts.Scroll.ScrollDown(ctx, p.d, target)
	})
}

// HideKeyboard taps the keyboard's Return button, falling back to the driver's
// hide-keyboard command when the button does not show up.
func (p *Page) HideKeyboard(ctx context.Context) error {
	return p.run("hideKeyboard", nil, func() error {
		el, err := resolver.Resolve(ctx, p.d, ReturnKey, core.WaitPolicy{Timeout: p.opts.KeyboardWait, PollInterval: p.opts.Wait.PollInterval})
		if err == nil {
			return p.d.Click(ctx, el.ID)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.d.HideKeyboard(ctx)
	})
}

// Navigate opens target, resolving relative URLs against the base URL.
func (p *Page) Navigate(ctx context.Context, target string) error {
	return p.run("navigate", nil, func() error {
		u, err := p.absURL(target)
		if err != nil {
			return err
		}
		p.log().Info("navigate", zap.String("url", u))
		return p.d.Navigate(ctx, u)
	})
}

func (p *Page) absURL(target string) (string, error) {
	if p.opts.BaseURL == "" || strings.Contains(target, "://") {
		return target, nil
	}
	base, err := url.Parse(p.opts.BaseURL)
	if err != nil {
		return "", core.NewConfigurationError("web.base.url", err)
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// ScrollIntoView scrolls a web element into the viewport with JavaScript.
func (p *Page) ScrollIntoView(ctx context.Context, loc core.Locator, timeout time.Duration) error {
	return p.run("scrollIntoView", loc, func() error {
		el, err := p.resolve(ctx, loc, timeout)
		if err != nil {
			return err
		}
		if err := sleep(ctx, scrollIntoViewPause); err != nil {
			return err
		}
		if _, err := p.d.Execute(ctx, scrollIntoViewScript, core.ElementRef(el.ID)); err != nil {
			return fmt.Errorf("scroll %s into view: %w", loc, err)
		}
		return sleep(ctx, scrollIntoViewPause)
	})
}

// Execute runs a script or "mobile:" command on the session.
func (p *Page) Execute(ctx context.Context, script string, args ...interface{}) (interface{}, error) {
	var result interface{}
	err := p.run("execute", nil, func() error {
		p.log().Debug("execute", zap.String("script", script))
		var err error
		result, err = p.d.Execute(ctx, script, args...)
		return err
	})
	return result, err
}

// Pause blocks for d or until ctx is done.
func (p *Page) Pause(ctx context.Context, d time.Duration) error {
	return p.run("pause", nil, func() error {
		return sleep(ctx, d)
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type point core.Point

func (pt point) String() string { return fmt.Sprintf("(%d,%d)", pt.X, pt.Y) }
