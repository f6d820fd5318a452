package core

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/barysiuk/ngstep/internal/core/version"
)

// ManifestFileName is the project manifest every command requires.
const ManifestFileName = "package.json"

// Manifest sections the engine reads and writes.
const (
	SectionDependencies    = "dependencies"
	SectionDevDependencies = "devDependencies"
	SectionOverrides       = "overrides"
)

// Manifest is a package.json held as raw JSON and edited by path so that
// keys the engine does not touch keep their values and order.
type Manifest struct {
	path string
	raw  string
}

// ManifestChange records one dependency declaration rewritten by a transition.
type ManifestChange struct {
	Name    string
	Section string
	From    string // empty when added
	To      string
}

// ReadManifest loads package.json from dir.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("%s in %s", ManifestFileName, dir)
		}
		return nil, errors.Annotatef(err, "reading %s", path)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.NotValidf("%s (malformed JSON)", path)
	}
	return &Manifest{path: path, raw: string(data)}, nil
}

// Path returns the manifest's file path.
func (m *Manifest) Path() string { return m.path }

// Raw returns the current JSON text.
func (m *Manifest) Raw() string { return m.raw }

// Save writes the manifest back with two-space indentation.
func (m *Manifest) Save() error {
	out := pretty.PrettyOptions([]byte(m.raw), &pretty.Options{Width: 80, Indent: "  "})
	return errors.Annotate(writeFileAtomic(m.path, out), "saving manifest")
}

// Get returns the string value of name in section.
func (m *Manifest) Get(section, name string) (string, bool) {
	r := gjson.Get(m.raw, memberPath(section, name))
	if !r.Exists() || r.Type != gjson.String {
		return "", false
	}
	return r.Str, true
}

// Has reports whether section declares name with any value.
func (m *Manifest) Has(section, name string) bool {
	return gjson.Get(m.raw, memberPath(section, name)).Exists()
}

// Set assigns a string value to name in section, creating the section if
// it does not exist.
func (m *Manifest) Set(section, name, value string) error {
	raw, err := sjson.Set(m.raw, memberPath(section, name), value)
	if err != nil {
		return errors.Annotatef(err, "setting %s.%s", section, name)
	}
	m.raw = raw
	return nil
}

// Delete removes name from section.
func (m *Manifest) Delete(section, name string) error {
	raw, err := sjson.Delete(m.raw, memberPath(section, name))
	if err != nil {
		return errors.Annotatef(err, "deleting %s.%s", section, name)
	}
	m.raw = raw
	return nil
}

// DeleteSection removes a whole top-level section.
func (m *Manifest) DeleteSection(section string) error {
	raw, err := sjson.Delete(m.raw, escapePathKey(section))
	if err != nil {
		return errors.Annotatef(err, "deleting %s", section)
	}
	m.raw = raw
	return nil
}

// Names returns the keys of section in document order.
func (m *Manifest) Names(section string) []string {
	var names []string
	gjson.Get(m.raw, escapePathKey(section)).ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	return names
}

// Lookup finds name in dependencies, then devDependencies.
func (m *Manifest) Lookup(name string) (section, value string, ok bool) {
	for _, s := range []string{SectionDependencies, SectionDevDependencies} {
		if v, found := m.Get(s, name); found {
			return s, v, true
		}
	}
	return "", "", false
}

// AngularMajor returns the major version of the declared @angular/core.
func (m *Manifest) AngularMajor() (int, error) {
	_, v, ok := m.Lookup("@angular/core")
	if !ok {
		return 0, errors.NotFoundf("@angular/core in %s", ManifestFileName)
	}
	major, ok := version.Major(v)
	if !ok {
		return 0, errors.NotValidf("@angular/core version %q", v)
	}
	return major, nil
}

// ApplyPins rewrites the declared version of each pin in place. A package
// declared nowhere is skipped, except typescript which is added as a dev
// dependency.
func (m *Manifest) ApplyPins(pins []PackagePin) ([]ManifestChange, error) {
	var changes []ManifestChange
	for _, pin := range pins {
		section, current, ok := m.Lookup(pin.Name)
		if !ok {
			if pin.Name != "typescript" {
				continue
			}
			section = SectionDevDependencies
		}
		if current == pin.Version {
			continue
		}
		if err := m.Set(section, pin.Name, pin.Version); err != nil {
			return nil, errors.Trace(err)
		}
		changes = append(changes, ManifestChange{Name: pin.Name, Section: section, From: current, To: pin.Version})
	}
	return changes, nil
}

// AddResolution declares name at an exact version and pins it with an
// override referencing that declaration.
func (m *Manifest) AddResolution(name, exact string) error {
	if err := m.Set(SectionDependencies, name, exact); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.Set(SectionOverrides, name, "$"+name))
}

// RepinOverride resolves an override conflict on name by pinning the
// declared version, or reported when name is not declared.
func (m *Manifest) RepinOverride(name, reported string) (string, error) {
	exact := reported
	if v, ok := m.Get(SectionDependencies, name); ok {
		exact = version.StripRange(v)
	}
	return exact, errors.Trace(m.AddResolution(name, exact))
}

// SyncOverrides makes overrides and dependencies agree before an install:
// a "$name" reference to an undeclared dependency is dropped, a literal
// override becomes an exact declaration plus a reference, and every
// overridden dependency loses its range prefix. It returns the names it
// changed.
func (m *Manifest) SyncOverrides() ([]string, error) {
	var changed []string
	for _, name := range m.Names(SectionOverrides) {
		ov, ok := m.Get(SectionOverrides, name)
		if !ok {
			continue // nested override objects are left alone
		}
		if strings.HasPrefix(ov, "$") {
			if _, declared := m.Get(SectionDependencies, name); !declared {
				if err := m.Delete(SectionOverrides, name); err != nil {
					return nil, errors.Trace(err)
				}
				changed = append(changed, name)
			}
			continue
		}
		if err := m.AddResolution(name, version.StripRange(ov)); err != nil {
			return nil, errors.Trace(err)
		}
		changed = append(changed, name)
	}

	for _, name := range m.Names(SectionDependencies) {
		if !gjson.Get(m.raw, memberPath(SectionOverrides, name)).Exists() {
			continue
		}
		v, _ := m.Get(SectionDependencies, name)
		if exact := version.StripRange(v); exact != v {
			if err := m.Set(SectionDependencies, name, exact); err != nil {
				return nil, errors.Trace(err)
			}
			changed = append(changed, name)
		}
	}
	return changed, nil
}

func memberPath(section, name string) string {
	return escapePathKey(section) + "." + escapePathKey(name)
}

// escapePathKey escapes characters that gjson and sjson treat as path syntax.
// Package names such as "@angular/core" and "zone.js" need it.
func escapePathKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
