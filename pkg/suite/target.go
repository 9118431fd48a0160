package suite

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dibtr/grid-runner/pkg/core"
)

var errNoLocator = errors.New("no locator given")

// Target selects an element. A bare string is an accessibility id; a mapping
// sets exactly one strategy.
type Target struct {
	AccessibilityID string `yaml:"accessibilityId"`
	Predicate       string `yaml:"predicate"`
	ClassChain      string `yaml:"classChain"`
	XPath           string `yaml:"xpath"`
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	ClassName       string `yaml:"className"`
	CSS             string `yaml:"css"`
}

// UnmarshalYAML allows Target to be unmarshaled from string or struct.
func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.AccessibilityID = node.Value
		return nil
	}
	type plain Target
	return node.Decode((*plain)(t))
}

// IsZero reports whether no strategy is set.
func (t Target) IsZero() bool { return t == Target{} }

// Locator converts the target.
func (t Target) Locator() (core.Locator, error) {
	var found []core.Locator
	add := func(v string, build func(string) core.Locator) {
		if v != "" {
			found = append(found, build(v))
		}
	}
	add(t.AccessibilityID, core.AccessibilityID)
	add(t.Predicate, core.Predicate)
	add(t.ClassChain, core.ClassChain)
	add(t.XPath, core.XPath)
	add(t.ID, core.ID)
	add(t.Name, core.Name)
	add(t.ClassName, core.ClassName)
	add(t.CSS, core.CSS)

	switch len(found) {
	case 0:
		return core.Locator{}, errNoLocator
	case 1:
		return found[0], nil
	default:
		return core.Locator{}, fmt.Errorf("%d locators given, want exactly one", len(found))
	}
}
