// Package scroll brings off-screen elements into view with a bounded number
// of "mobile: scroll" commands.
package scroll

import (
	"context"
	"fmt"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/logger"
	"github.com/dibtr/grid-runner/pkg/metrics"
)

// DefaultMaxSteps is the scroll bound used when none is configured.
const DefaultMaxSteps = 1

// Script is the Appium command issued for each step.
const Script = "mobile: scroll"

// Strategy selects how the scroll command is parameterized.
type Strategy string

const (
	// ByElementName scrolls the container until an element with the given name is reached
	ByElementName Strategy = "element"
	// ByDirection scrolls the container one page in a compass direction
	ByDirection Strategy = "direction"
)

// Directions accepted by ByDirection.
const (
	DirectionDown  = "down"
	DirectionUp    = "up"
	DirectionLeft  = "left"
	DirectionRight = "right"
)

// Application is the root element of an iOS app, the container for ScrollDown.
var Application = core.ClassName("XCUIElementTypeApplication")

// Request describes one scroll search.
type Request struct {
	Container core.Locator
	Target    core.Locator
	Strategy  Strategy
	Value     string // element name or direction
	MaxSteps  int    // overrides the engine bound when positive
}

// Engine runs scroll searches.
type Engine struct {
	MaxSteps int
}

// New returns an engine bounded to maxSteps scrolls per search.
// Values below one fall back to DefaultMaxSteps.
func New(maxSteps int) *Engine {
	return &Engine{MaxSteps: maxSteps}
}

func (e *Engine) steps(req Request) int {
	if req.MaxSteps > 0 {
		return req.MaxSteps
	}
	if e != nil && e.MaxSteps > 0 {
		return e.MaxSteps
	}
	return DefaultMaxSteps
}

func (r Request) validate() error {
	switch r.Strategy {
	case ByElementName:
	case ByDirection:
		switch r.Value {
		case DirectionDown, DirectionUp, DirectionLeft, DirectionRight:
		default:
			return core.NewConfigurationError("scroll.direction", fmt.Errorf("unknown direction %q", r.Value))
		}
	default:
		return core.NewConfigurationError("scroll.strategy", fmt.Errorf("unknown scroll strategy %q", r.Strategy))
	}
	if r.Value == "" {
		return core.NewConfigurationError("scroll.value", core.ErrMissingRequired)
	}
	return nil
}

// ScrollToVisible scrolls until req.Target is displayed or the step bound is
// used up. Exhausting the bound is not an error: the caller's next resolve
// reports the missing element. Only an interrupted context is returned.
func (e *Engine) ScrollToVisible(ctx context.Context, d core.Driver, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}

	limit := e.steps(req)
	for step := 0; step < limit; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		container := first(ctx, d, req.Container)
		if visible(ctx, d, req.Target) {
			logger.Debug("scroll: %s visible after %d step(s)", req.Target, step)
			return nil
		}

		args := map[string]interface{}{}
		if container != "" {
			args["element"] = core.ElementRef(container)
		} else {
			logger.Warn("scroll: container %s not found, scrolling without anchor", req.Container)
		}
		if req.Strategy == ByElementName {
			args["name"] = req.Value
		} else {
			args["direction"] = req.Value
		}

		if _, err := d.Execute(ctx, Script, args); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("scroll: %s %s failed: %v", req.Strategy, req.Value, err)
		}
		metrics.ScrollSteps.Inc()
	}
	return ctx.Err()
}

// ScrollDown scrolls the whole application down looking for target.
func (e *Engine) ScrollDown(ctx context.Context, d core.Driver, target core.Locator) error {
	return e.ScrollToVisible(ctx, d, Request{
		Container: Application,
		Target:    target,
		Strategy:  ByDirection,
		Value:     DirectionDown,
	})
}

// first returns the first element matching loc, or "" when there is none or
// the lookup fails.
func first(ctx context.Context, d core.Driver, loc core.Locator) string {
	if loc.IsZero() {
		return ""
	}
	ids, err := d.FindElements(ctx, loc)
	if err != nil {
		logger.Debug("scroll: lookup %s: %v", loc, err)
		return ""
	}
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// visible reports whether any match of loc is displayed right now.
func visible(ctx context.Context, d core.Driver, loc core.Locator) bool {
	ids, err := d.FindElements(ctx, loc)
	if err != nil {
		return false
	}
	for _, id := range ids {
		if shown, err := d.IsDisplayed(ctx, id); err == nil && shown {
			return true
		}
	}
	return false
}
