package core

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/barysiuk/ngstep/internal/core/version"
)

//go:embed plan.yaml
var defaultPlanYAML []byte

// Plan is the ordered sequence of major-version transitions.
type Plan struct {
	Transitions []Transition `yaml:"transitions"`
}

// Transition moves a project from one framework major version to the next.
type Transition struct {
	From       int              `yaml:"from"`
	To         int              `yaml:"to"`
	Label      string           `yaml:"label"`
	Packages   Pins             `yaml:"packages"`
	Migrations []MigrationRange `yaml:"migrations,omitempty"`
	Notes      []string         `yaml:"notes,omitempty"`
}

// MigrationRange selects the catalog entries of one package whose version
// falls in (From, To]. Package may carry an "@N" suffix naming the major it
// belongs to; the suffix is not part of the installed package name.
type MigrationRange struct {
	Package string `yaml:"package"`
	From    string `yaml:"from"`
	To      string `yaml:"to"`
}

// PackageName returns Package without its "@N" suffix.
func (r MigrationRange) PackageName() string {
	if i := strings.LastIndex(r.Package, "@"); i > 0 {
		return r.Package[:i]
	}
	return r.Package
}

// PackagePin is one package and its target version constraint.
type PackagePin struct {
	Name    string
	Version string
}

// Pins keeps package pins in the order they are written in the plan.
type Pins []PackagePin

// UnmarshalYAML implements yaml.Unmarshaler, reading a mapping in order.
func (p *Pins) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.NotValidf("packages at line %d (expected a mapping)", node.Line)
	}
	pins := make(Pins, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return errors.NotValidf("version of %q at line %d", key.Value, val.Line)
		}
		pins = append(pins, PackagePin{Name: key.Value, Version: val.Value})
	}
	*p = pins
	return nil
}

// MarshalYAML implements yaml.Marshaler, writing a mapping in order.
func (p Pins) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, pin := range p {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: pin.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: pin.Version},
		)
	}
	return node, nil
}

// Get returns the pinned constraint for name.
func (p Pins) Get(name string) (string, bool) {
	for _, pin := range p {
		if pin.Name == name {
			return pin.Version, true
		}
	}
	return "", false
}

// CLIVersion returns the exact @angular/cli version the transition targets.
func (t Transition) CLIVersion() string {
	v, _ := t.Packages.Get("@angular/cli")
	return version.StripRange(v)
}

// TypeScript returns the pinned typescript constraint, if any.
func (t Transition) TypeScript() (string, bool) {
	return t.Packages.Get("typescript")
}

// Markdown describes the transition as a markdown section.
func (t Transition) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\nv%d -> v%d\n\n", t.Label, t.From, t.To)
	if len(t.Notes) > 0 {
		b.WriteString("### Notes\n\n")
		for _, n := range t.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		b.WriteString("\n")
	}
	b.WriteString("### Packages\n\n| Package | Version |\n| --- | --- |\n")
	for _, pin := range t.Packages {
		fmt.Fprintf(&b, "| `%s` | `%s` |\n", pin.Name, pin.Version)
	}
	if len(t.Migrations) > 0 {
		b.WriteString("\n### Migrations\n\n")
		for _, m := range t.Migrations {
			fmt.Fprintf(&b, "- `%s` from %s to %s\n", m.PackageName(), m.From, m.To)
		}
	}
	return b.String()
}

// LoadPlan reads a plan from path, or the built-in plan when path is empty.
func LoadPlan(path string) (*Plan, error) {
	if path == "" {
		return DefaultPlan()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading plan %s", path)
	}
	p, err := ParsePlan(data)
	return p, errors.Annotatef(err, "plan %s", path)
}

// DefaultPlan returns the built-in plan.
func DefaultPlan() (*Plan, error) {
	p, err := ParsePlan(defaultPlanYAML)
	return p, errors.Annotate(err, "built-in plan")
}

// ParsePlan decodes and validates a plan document.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Annotate(err, "parsing plan")
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &p, nil
}

// Validate checks that transitions are ordered by source version, labels are
// unique, every transition advances at most one major, and every constraint
// parses.
func (p *Plan) Validate() error {
	if len(p.Transitions) == 0 {
		return errors.NotValidf("empty plan")
	}
	seen := make(map[string]bool)
	pairs := make(map[[2]int]bool)
	for i, t := range p.Transitions {
		if t.Label == "" {
			return errors.NotValidf("transition %d without a label", i+1)
		}
		if seen[t.Label] {
			return errors.NotValidf("duplicate label %q", t.Label)
		}
		seen[t.Label] = true

		if t.To != t.From && t.To != t.From+1 {
			return errors.NotValidf("%q: %d -> %d skips a major", t.Label, t.From, t.To)
		}
		pair := [2]int{t.From, t.To}
		if pairs[pair] {
			return errors.NotValidf("%q: second transition for %d -> %d", t.Label, t.From, t.To)
		}
		pairs[pair] = true
		if i > 0 {
			prev := p.Transitions[i-1]
			if t.From < prev.From || (t.From == prev.From && t.To < prev.To) {
				return errors.NotValidf("%q: transitions out of order", t.Label)
			}
		}

		if len(t.Packages) == 0 {
			return errors.NotValidf("%q: no packages", t.Label)
		}
		for _, pin := range t.Packages {
			if err := version.ValidateConstraint(pin.Version); err != nil {
				return errors.Annotatef(err, "%q: package %s", t.Label, pin.Name)
			}
		}
		for _, m := range t.Migrations {
			if m.PackageName() == "" {
				return errors.NotValidf("%q: migration without a package", t.Label)
			}
			if err := version.ValidateConstraint(m.From); err != nil {
				return errors.Annotatef(err, "%q: migration %s from", t.Label, m.Package)
			}
			if err := version.ValidateConstraint(m.To); err != nil {
				return errors.Annotatef(err, "%q: migration %s to", t.Label, m.Package)
			}
		}
	}
	return nil
}

// Find returns the transition with label.
func (p *Plan) Find(label string) (Transition, bool) {
	for _, t := range p.Transitions {
		if t.Label == label {
			return t, true
		}
	}
	return Transition{}, false
}

// Next returns the first transition starting at major whose label is not
// in done.
func (p *Plan) Next(major int, done map[string]bool) (Transition, bool) {
	for _, t := range p.Transitions {
		if t.From == major && !done[t.Label] {
			return t, true
		}
	}
	return Transition{}, false
}

// Range returns the lowest source and highest target major in the plan.
func (p *Plan) Range() (from, to int) {
	if len(p.Transitions) == 0 {
		return 0, 0
	}
	from = p.Transitions[0].From
	for _, t := range p.Transitions {
		if t.To > to {
			to = t.To
		}
	}
	return from, to
}
