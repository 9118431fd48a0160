// Package suite handles parsing and validation of scenario suite files.
//
// A suite is a YAML document listing scenarios; each scenario names the
// platform and device it needs and the steps to run once its session is up:
//
//	name: smoke
//	scenarios:
//	  - name: login
//	    platform: mobile
//	    platformVersion: "17.2"
//	    deviceName: iPhone 15
//	    steps:
//	      - launchApp
//	      - type: {element: username, text: "${data.username}"}
//	      - click: loginButton
//	      - assertText: {element: {predicate: "label == 'Welcome'"}, text: Welcome}
package suite

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dibtr/grid-runner/pkg/core"
	"github.com/dibtr/grid-runner/pkg/session"
)

// ParseError represents a parsing or validation error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Suite is a parsed suite file.
type Suite struct {
	SourcePath string     `yaml:"-"`
	Name       string     `yaml:"name"`
	Scenarios  []Scenario `yaml:"scenarios"`
}

// Scenario is one independently scheduled unit of work. It runs on its own
// worker with its own session.
type Scenario struct {
	Name            string        `yaml:"name"`
	Platform        core.Platform `yaml:"platform"` // defaults to mobile
	PlatformVersion string        `yaml:"platformVersion"`
	DeviceName      string        `yaml:"deviceName"`
	FullReset       bool          `yaml:"fullReset"`
	URL             string        `yaml:"url"` // web: opened right after the session starts
	Steps           []Step        `yaml:"steps"`

	Line int `yaml:"-"`
}

// UnmarshalYAML records the scenario's line and applies defaults.
func (s *Scenario) UnmarshalYAML(node *yaml.Node) error {
	type plain Scenario
	if err := node.Decode((*plain)(s)); err != nil {
		return err
	}
	s.Line = node.Line
	if s.Platform == "" {
		s.Platform = core.PlatformMobile
	}
	return nil
}

// Params returns the session parameters of the scenario.
func (s Scenario) Params() session.Params {
	return session.Params{
		Platform:        s.Platform,
		PlatformVersion: s.PlatformVersion,
		DeviceName:      s.DeviceName,
		FullReset:       s.FullReset,
	}
}

// Load reads, parses and validates a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is the user-provided suite file
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}
	s, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse decodes suite YAML. It checks syntax only; see Validate.
func Parse(data []byte, sourcePath string) (*Suite, error) {
	s := &Suite{SourcePath: sourcePath}
	if err := yaml.Unmarshal(data, s); err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = sourcePath
			return nil, pe
		}
		return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid suite: %v", err)}
	}
	if len(s.Scenarios) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "suite has no scenarios"}
	}
	return s, nil
}

// Validate checks scenario names, platforms and step arguments. All
// problems are reported together.
func (s *Suite) Validate() error {
	var errs []error
	fail := func(line int, format string, args ...interface{}) {
		errs = append(errs, &ParseError{Path: s.SourcePath, Line: line, Message: fmt.Sprintf(format, args...)})
	}

	if len(s.Scenarios) == 0 {
		fail(0, "suite has no scenarios")
	}
	seen := make(map[string]bool)
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		switch {
		case sc.Name == "":
			fail(sc.Line, "scenario %d has no name", i+1)
		case seen[sc.Name]:
			fail(sc.Line, "duplicate scenario name %q", sc.Name)
		}
		seen[sc.Name] = true

		switch sc.Platform {
		case core.PlatformMobile, core.PlatformWeb:
		default:
			fail(sc.Line, "scenario %q: unknown platform %q", sc.Name, sc.Platform)
			continue
		}
		if len(sc.Steps) == 0 && sc.URL == "" {
			fail(sc.Line, "scenario %q has no steps", sc.Name)
		}
		if err := checkPlaceholders(sc.URL); err != nil {
			fail(sc.Line, "scenario %q: %v", sc.Name, err)
		}
		for _, st := range sc.Steps {
			if err := st.validate(sc.Platform); err != nil {
				fail(st.Line, "scenario %q: %s: %v", sc.Name, st.Action, err)
			}
		}
	}
	return errors.Join(errs...)
}
