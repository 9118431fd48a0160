package suite

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dibtr/grid-runner/pkg/capability"
	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/device"
	"github.com/dibtr/grid-runner/pkg/scroll"
	"github.com/dibtr/grid-runner/pkg/session"
	"github.com/dibtr/grid-runner/pkg/testdata"
)

// Action names a step.
type Action string

// Action constants.
const (
	// App management
	ActionLaunchApp     Action = "launchApp"
	ActionTerminateApp  Action = "terminateApp"
	ActionRestartApp    Action = "restartApp"
	ActionResetApp      Action = "resetApp"
	ActionAllowLocation Action = "allowLocation"

	// Interaction
	ActionClick        Action = "click"
	ActionTap          Action = "tap"
	ActionType         Action = "type"
	ActionTypeSlowly   Action = "typeSlowly"
	ActionHideKeyboard Action = "hideKeyboard"
	ActionScroll       Action = "scroll"
	ActionScrollDown   Action = "scrollDown"
	ActionNavigate     Action = "navigate"
	ActionPause        Action = "pause"

	// Assertions and waits
	ActionAssertPresent Action = "assertPresent"
	ActionAssertText    Action = "assertText"
	ActionWaitFor       Action = "waitFor"
	ActionWaitGone      Action = "waitGone"
)

// scalar says what a bare value after the action name means.
type scalar int

const (
	scalarNone scalar = iota
	scalarElement
	scalarURL
	scalarDuration
)

type shape struct {
	scalar     scalar
	element    bool // requires element
	mobileOnly bool
}

var actions = map[Action]shape{
	ActionLaunchApp:     {mobileOnly: true},
	ActionTerminateApp:  {mobileOnly: true},
	ActionRestartApp:    {mobileOnly: true},
	ActionResetApp:      {mobileOnly: true},
	ActionAllowLocation: {mobileOnly: true},

	ActionClick:        {scalar: scalarElement, element: true},
	ActionTap:          {scalar: scalarElement, element: true},
	ActionType:         {element: true},
	ActionTypeSlowly:   {element: true},
	ActionHideKeyboard: {},
	ActionScroll:       {element: true, mobileOnly: true},
	ActionScrollDown:   {scalar: scalarElement, element: true, mobileOnly: true},
	ActionNavigate:     {scalar: scalarURL},
	ActionPause:        {scalar: scalarDuration},

	ActionAssertPresent: {scalar: scalarElement, element: true},
	ActionAssertText:    {element: true},
	ActionWaitFor:       {scalar: scalarElement, element: true},
	ActionWaitGone:      {scalar: scalarElement, element: true},
}

// Step is one action of a scenario.
type Step struct {
	Action    Action
	Element   Target
	Container Target // scroll: defaults to the application root
	Text      string // type, typeSlowly: text to enter; assertText: expected text
	Name      string // scroll: element name to scroll to
	Direction string // scroll: down, up, left or right
	MaxSteps  int    // scroll: overrides scroll.max.steps
	URL       string
	Duration  Duration
	Timeout   Duration // zero uses the configured wait

	Line int
}

type stepArgs struct {
	Element   Target   `yaml:"element"`
	Container Target   `yaml:"container"`
	Text      string   `yaml:"text"`
	Name      string   `yaml:"name"`
	Direction string   `yaml:"direction"`
	MaxSteps  int      `yaml:"maxSteps"`
	URL       string   `yaml:"url"`
	Duration  Duration `yaml:"duration"`
	Timeout   Duration `yaml:"timeout"`
}

// UnmarshalYAML decodes "- action", "- action: value" and
// "- action: {args}" forms.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	s.Line = node.Line
	switch node.Kind {
	case yaml.ScalarNode:
		a := Action(node.Value)
		if _, ok := actions[a]; !ok {
			return &ParseError{Line: node.Line, Message: fmt.Sprintf("unknown step type: %s", node.Value)}
		}
		s.Action = a
		return nil

	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return &ParseError{Line: node.Line, Message: "step must have exactly one action"}
		}
		a := Action(node.Content[0].Value)
		sh, ok := actions[a]
		if !ok {
			return &ParseError{Line: node.Line, Message: fmt.Sprintf("unknown step type: %s", node.Content[0].Value)}
		}
		s.Action = a
		return s.decodeArgs(sh, node.Content[1])

	default:
		return &ParseError{Line: node.Line, Message: "step must be a mapping or action name"}
	}
}

func (s *Step) decodeArgs(sh shape, v *yaml.Node) error {
	if v.Kind == yaml.ScalarNode {
		if v.ShortTag() == "!!null" {
			return nil
		}
		switch sh.scalar {
		case scalarElement:
			s.Element = Target{AccessibilityID: v.Value}
		case scalarURL:
			s.URL = v.Value
		case scalarDuration:
			if err := s.Duration.UnmarshalYAML(v); err != nil {
				return &ParseError{Line: v.Line, Message: err.Error()}
			}
		default:
			return &ParseError{Line: v.Line, Message: fmt.Sprintf("%s does not take a value", s.Action)}
		}
		return nil
	}

	var args stepArgs
	if err := v.Decode(&args); err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return pe
		}
		return &ParseError{Line: v.Line, Message: fmt.Sprintf("invalid %s arguments: %v", s.Action, err)}
	}
	s.Element = args.Element
	s.Container = args.Container
	s.Text = args.Text
	s.Name = args.Name
	s.Direction = args.Direction
	s.MaxSteps = args.MaxSteps
	s.URL = args.URL
	s.Duration = args.Duration
	s.Timeout = args.Timeout
	return nil
}

// String describes the step for logs and reports.
func (s Step) String() string {
	switch {
	case s.Action == ActionNavigate:
		return fmt.Sprintf("%s %s", s.Action, s.URL)
	case s.Action == ActionPause:
		return fmt.Sprintf("%s %s", s.Action, s.Duration.D())
	case !s.Element.IsZero():
		if loc, err := s.Element.Locator(); err == nil {
			return fmt.Sprintf("%s %s", s.Action, loc)
		}
	}
	return string(s.Action)
}

func (s Step) validate(p core.Platform) error {
	sh, ok := actions[s.Action]
	if !ok {
		return errors.New("unknown step type")
	}
	if sh.mobileOnly && p != core.PlatformMobile {
		return errors.New("only supported on mobile")
	}
	if sh.element {
		if _, err := s.Element.Locator(); err != nil {
			return fmt.Errorf("element: %w", err)
		}
	}
	if !s.Container.IsZero() {
		if _, err := s.Container.Locator(); err != nil {
			return fmt.Errorf("container: %w", err)
		}
	}
	if s.Timeout < 0 || s.MaxSteps < 0 {
		return errors.New("timeout and maxSteps must not be negative")
	}

	switch s.Action {
	case ActionScroll:
		if (s.Name == "") == (s.Direction == "") {
			return errors.New("exactly one of name or direction is required")
		}
		switch s.Direction {
		case "", scroll.DirectionDown, scroll.DirectionUp, scroll.DirectionLeft, scroll.DirectionRight:
		default:
			return fmt.Errorf("unknown direction %q", s.Direction)
		}
	case ActionNavigate:
		if s.URL == "" {
			return errors.New("url is required")
		}
	case ActionPause:
		if s.Duration <= 0 {
			return errors.New("duration must be positive")
		}
	}

	for _, v := range []string{s.Text, s.URL, s.Name} {
		if err := checkPlaceholders(v); err != nil {
			return err
		}
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$\{data\.([A-Za-z]+)\}`)

func checkPlaceholders(v string) error {
	for _, m := range placeholder.FindAllStringSubmatch(v, -1) {
		if _, ok := (testdata.Data{}).Lookup(m[1]); !ok {
			return fmt.Errorf("unknown placeholder %s", m[0])
		}
	}
	return nil
}

// Expand substitutes ${data.<field>} placeholders with values from data.
func Expand(v string, data testdata.Data) string {
	return placeholder.ReplaceAllStringFunc(v, func(m string) string {
		field := placeholder.FindStringSubmatch(m)[1]
		if val, ok := data.Lookup(field); ok {
			return val
		}
		return m
	})
}

// Expand returns a copy of the step with placeholders in its text, url and
// name replaced.
func (s Step) Expand(data testdata.Data) Step {
	s.Text = Expand(s.Text, data)
	s.URL = Expand(s.URL, data)
	s.Name = Expand(s.Name, data)
	return s
}

// Run executes the step on the session's page.
//
//nolint:gocyclo
func (s Step) Run(ctx context.Context, sess *session.Session) error {
	sh, ok := actions[s.Action]
	if !ok {
		return core.NewConfigurationError("step", fmt.Errorf("unknown step type %q", s.Action))
	}
	var loc core.Locator
	if sh.element {
		var err error
		if loc, err = s.Element.Locator(); err != nil {
			return core.NewConfigurationError(string(s.Action), err)
		}
	}

	p := sess.Page
	timeout := s.Timeout.D()
	switch s.Action {
	case ActionLaunchApp:
		return appSupport(sess).LaunchApp(ctx)
	case ActionTerminateApp:
		return appSupport(sess).CloseApp(ctx)
	case ActionRestartApp:
		return appSupport(sess).RestartApp(ctx)
	case ActionResetApp:
		return appSupport(sess).ResetApp(ctx)
	case ActionAllowLocation:
		_, err := appSupport(sess).TurnOnLocationServices(ctx)
		return err

	case ActionClick:
		return p.Click(ctx, loc, timeout)
	case ActionTap:
		return p.Tap(ctx, loc, timeout)
	case ActionType:
		return p.Type(ctx, loc, s.Text, timeout)
	case ActionTypeSlowly:
		return p.TypeSlowly(ctx, loc, s.Text, timeout)
	case ActionHideKeyboard:
		return p.HideKeyboard(ctx)
	case ActionScroll:
		req := scroll.Request{Container: scroll.Application, Target: loc, MaxSteps: s.MaxSteps}
		if !s.Container.IsZero() {
			c, err := s.Container.Locator()
			if err != nil {
				return core.NewConfigurationError("container", err)
			}
			req.Container = c
		}
		if s.Name != "" {
			req.Strategy, req.Value = scroll.ByElementName, s.Name
		} else {
			req.Strategy, req.Value = scroll.ByDirection, s.Direction
		}
		return p.ScrollTo(ctx, req)
	case ActionScrollDown:
		return p.ScrollDown(ctx, loc)
	case ActionNavigate:
		return p.Navigate(ctx, s.URL)
	case ActionPause:
		return p.Pause(ctx, s.Duration.D())

	case ActionAssertPresent:
		_, err := p.Find(ctx, loc, timeout)
		return err
	case ActionAssertText:
		text, err := p.GetText(ctx, loc, timeout)
		if err != nil {
			return err
		}
		if text != s.Text {
			return core.ErrTextMismatch.
				WithMessage(fmt.Sprintf("%s: got %q, want %q", loc, text, s.Text)).
				WithDetails(map[string]interface{}{"expected": s.Text, "actual": text})
		}
		return nil
	case ActionWaitFor:
		p.WaitFor(ctx, loc, timeout)
		return ctx.Err()
	case ActionWaitGone:
		return p.WaitGone(ctx, loc, timeout)
	}
	return nil
}

// appSupport reads the app under test from the session's capabilities.
func appSupport(sess *session.Session) *device.Support {
	var bundleID, app string
	if sess.Capabilities != nil {
		if v, ok := sess.Capabilities.Get(capability.BundleID); ok {
			bundleID, _ = v.(string)
		}
		if v, ok := sess.Capabilities.Get(capability.App); ok {
			app, _ = v.(string)
		}
	}
	return device.New(sess.Page, bundleID, app)
}

// Duration accepts Go durations ("1.5s") or bare milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.New("duration must be a scalar")
	}
	if ms, err := strconv.Atoi(node.Value); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	*d = Duration(v)
	return nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }
