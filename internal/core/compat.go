package core

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/barysiuk/ngstep/internal/core/version"
)

//go:embed compat.yaml
var defaultCompat []byte

// KendoPrefix names the package family that shares one version.
const KendoPrefix = "@progress/kendo-angular-"

// CompanionPin is one entry of a compatibility table. Remove marks a
// package that must go wherever it is declared.
type CompanionPin struct {
	Name    string
	Version string
	Remove  bool
}

// CompanionPins keeps table entries in file order.
type CompanionPins []CompanionPin

// UnmarshalYAML reads a mapping of package name to constraint or null.
func (p *CompanionPins) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.NotValidf("packages at line %d (expected a mapping)", node.Line)
	}
	pins := make(CompanionPins, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch {
		case val.Kind == yaml.ScalarNode && val.Tag == "!!null":
			pins = append(pins, CompanionPin{Name: key.Value, Remove: true})
		case val.Kind == yaml.ScalarNode:
			pins = append(pins, CompanionPin{Name: key.Value, Version: val.Value})
		default:
			return errors.NotValidf("version of %q at line %d", key.Value, val.Line)
		}
	}
	*p = pins
	return nil
}

// CompanionTable lists the companion versions for one Angular major.
type CompanionTable struct {
	Packages        CompanionPins `yaml:"packages"`
	Kendo           string        `yaml:"kendo"`
	Remove          []string      `yaml:"remove"`
	RemoveOverrides []string      `yaml:"removeOverrides"`
	RemovePinned    []string      `yaml:"removePinned"`
}

// CompatTables maps an Angular major to its companion table.
type CompatTables map[int]*CompanionTable

// DefaultCompatTables returns the embedded tables.
func DefaultCompatTables() (CompatTables, error) {
	var tables CompatTables
	if err := yaml.Unmarshal(defaultCompat, &tables); err != nil {
		return nil, errors.Annotate(err, "parsing compatibility tables")
	}
	return tables, nil
}

// Majors returns the supported Angular majors in ascending order.
func (c CompatTables) Majors() []int {
	majors := make([]int, 0, len(c))
	for m := range c {
		majors = append(majors, m)
	}
	sort.Ints(majors)
	return majors
}

// For returns the table for major, or a NotSupported error naming the
// majors that have one.
func (c CompatTables) For(major int) (*CompanionTable, error) {
	if t, ok := c[major]; ok {
		return t, nil
	}
	supported := make([]string, 0, len(c))
	for _, m := range c.Majors() {
		supported = append(supported, fmt.Sprint(m))
	}
	return nil, errors.NotSupportedf("angular v%d (supported: %s)", major, strings.Join(supported, ", "))
}

// DepUpdate is a declared companion whose constraint differs from the table.
type DepUpdate struct {
	Name    string
	Section string
	From    string
	To      string
}

// DepRemoval is a declared package the table marks obsolete.
type DepRemoval struct {
	Name    string
	Section string
}

// DepAnalysis is what fix-deps would change for one Angular major.
type DepAnalysis struct {
	Major            int
	Updates          []DepUpdate
	KendoUpdates     []DepUpdate
	Removals         []DepRemoval
	OverrideRemovals []string
}

// Total counts every pending change.
func (a DepAnalysis) Total() int {
	return len(a.Updates) + len(a.KendoUpdates) + len(a.Removals) + len(a.OverrideRemovals)
}

// AnalyzeDeps compares the manifest against table. Only packages the
// project declares are considered.
func AnalyzeDeps(m *Manifest, major int, table *CompanionTable) DepAnalysis {
	a := DepAnalysis{Major: major}
	removing := make(map[string]bool)
	addRemoval := func(name string) {
		if removing[name] {
			return
		}
		if section, _, ok := m.Lookup(name); ok {
			removing[name] = true
			a.Removals = append(a.Removals, DepRemoval{Name: name, Section: section})
		}
	}

	explicit := make(map[string]bool)
	for _, pin := range table.Packages {
		explicit[pin.Name] = true
		if pin.Remove {
			addRemoval(pin.Name)
			continue
		}
		section, current, ok := m.Lookup(pin.Name)
		if !ok || version.Satisfies(current, pin.Version) {
			continue
		}
		a.Updates = append(a.Updates, DepUpdate{Name: pin.Name, Section: section, From: current, To: pin.Version})
	}
	for _, name := range table.Remove {
		addRemoval(name)
	}
	for _, name := range table.RemovePinned {
		addRemoval(name)
	}

	if table.Kendo != "" {
		for _, name := range declaredNames(m) {
			if !strings.HasPrefix(name, KendoPrefix) || explicit[name] || removing[name] {
				continue
			}
			section, current, _ := m.Lookup(name)
			if version.Satisfies(current, table.Kendo) {
				continue
			}
			a.KendoUpdates = append(a.KendoUpdates, DepUpdate{Name: name, Section: section, From: current, To: table.Kendo})
		}
	}

	for _, name := range table.RemoveOverrides {
		if m.Has(SectionOverrides, name) {
			a.OverrideRemovals = append(a.OverrideRemovals, name)
		}
	}
	return a
}

// declaredNames lists dependencies then devDependencies without repeats.
func declaredNames(m *Manifest) []string {
	seen := make(map[string]bool)
	var names []string
	for _, section := range []string{SectionDependencies, SectionDevDependencies} {
		for _, name := range m.Names(section) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// Report prints the analysis the way fix-deps shows a dry run.
func (a DepAnalysis) Report(w io.Writer) {
	if a.Total() == 0 {
		fmt.Fprintf(w, "\n  all dependencies look compatible with angular v%d. nothing to do.\n", a.Major)
		return
	}
	fmt.Fprintf(w, "\n  found %d dependency issue(s) for angular v%d:\n\n", a.Total(), a.Major)
	if len(a.Updates) > 0 {
		fmt.Fprintln(w, "  updates:")
		for _, u := range a.Updates {
			fmt.Fprintf(w, "    %s: %s -> %s (%s)\n", u.Name, u.From, u.To, u.Section)
		}
	}
	if len(a.KendoUpdates) > 0 {
		fmt.Fprintf(w, "\n  kendo updates (%d packages -> %s):\n", len(a.KendoUpdates), a.KendoUpdates[0].To)
		for _, u := range a.KendoUpdates {
			fmt.Fprintf(w, "    %s: %s -> %s\n", u.Name, u.From, u.To)
		}
	}
	if len(a.Removals) > 0 {
		fmt.Fprintln(w, "\n  removals (deprecated/obsolete):")
		for _, r := range a.Removals {
			fmt.Fprintf(w, "    %s (%s)\n", r.Name, r.Section)
		}
	}
	if len(a.OverrideRemovals) > 0 {
		fmt.Fprintln(w, "\n  overrides to remove (no longer needed):")
		for _, name := range a.OverrideRemovals {
			fmt.Fprintf(w, "    %s\n", name)
		}
	}
}

// DepFixOptions controls ApplyDeps. A nil Resolver writes the table's
// constraints as they are.
type DepFixOptions struct {
	Resolver VersionResolver
	Verbose  bool
	Out      io.Writer
}

// ApplyDeps writes the analysis into the manifest and saves it. It returns
// the number of entries changed.
func ApplyDeps(ctx context.Context, m *Manifest, a DepAnalysis, opts DepFixOptions) (int, error) {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	out := opts.Out
	if opts.Resolver != nil {
		fmt.Fprintln(out, "\n  resolving package versions from registry...")
	} else {
		fmt.Fprintln(out, "\n  applying package versions...")
	}

	changed := 0
	for _, u := range append(append([]DepUpdate(nil), a.Updates...), a.KendoUpdates...) {
		if !m.Has(u.Section, u.Name) {
			continue
		}
		to, err := resolveCompanion(ctx, u.Name, u.To, opts)
		if err != nil {
			return changed, errors.Trace(err)
		}
		if err := m.Set(u.Section, u.Name, to); err != nil {
			return changed, errors.Trace(err)
		}
		changed++
	}

	for _, r := range a.Removals {
		for _, section := range []string{SectionDependencies, SectionDevDependencies} {
			if !m.Has(section, r.Name) {
				continue
			}
			if err := m.Delete(section, r.Name); err != nil {
				return changed, errors.Trace(err)
			}
			changed++
		}
	}

	if len(a.OverrideRemovals) > 0 {
		for _, name := range a.OverrideRemovals {
			if !m.Has(SectionOverrides, name) {
				continue
			}
			if err := m.Delete(SectionOverrides, name); err != nil {
				return changed, errors.Trace(err)
			}
			changed++
		}
		if len(m.Names(SectionOverrides)) == 0 {
			if err := m.DeleteSection(SectionOverrides); err != nil {
				return changed, errors.Trace(err)
			}
		}
	}

	return changed, errors.Trace(m.Save())
}

// resolveCompanion picks the published version for wanted and keeps its
// "^" or "~" prefix. "latest" is written as the resolved version.
func resolveCompanion(ctx context.Context, name, wanted string, opts DepFixOptions) (string, error) {
	if opts.Resolver == nil {
		return wanted, nil
	}
	if opts.Verbose {
		fmt.Fprintf(opts.Out, "    > npm view %s versions\n", name)
	}
	resolved, err := opts.Resolver.Resolve(ctx, name, wanted)
	if err != nil {
		return "", errors.Annotatef(err, "resolving %s", name)
	}
	if wanted == "latest" {
		if resolved != wanted {
			fmt.Fprintf(opts.Out, "    %s: latest -> %s\n", name, resolved)
		}
		return resolved, nil
	}
	exact := version.StripRange(resolved)
	if exact != version.StripRange(wanted) {
		fmt.Fprintf(opts.Out, "    %s: %s -> %s (best available)\n", name, wanted, exact)
	} else if opts.Verbose {
		fmt.Fprintf(opts.Out, "    %s: %s (exact match)\n", name, wanted)
	}
	return version.CompatPrefix(wanted) + exact, nil
}
