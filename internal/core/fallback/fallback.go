// Package fallback repairs a project's source tree when a framework
// migration unit fails to run.
//
// Each Fixer is keyed by the exact name of the unit it stands in for and
// performs a narrow, idempotent rewrite of the files under src/. Fixers are
// self-contained and register themselves from init, so the table is the set
// of files in this package.
package fallback

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("ngstep.fallback")

// SourceDir is the project directory fixers rewrite.
const SourceDir = "src"

// Fixer stands in for one migration unit.
type Fixer interface {
	Name() string        // exact migration unit name
	Description() string // what the rewrite does
	// Fix rewrites the tree under srcDir and reports how many files it
	// touched. A missing srcDir is not an error.
	Fix(srcDir string, out io.Writer) (int, error)
}

// --- Registry ---

var fixers []Fixer

// Register adds a fixer to the table.
func Register(f Fixer) { fixers = append(fixers, f) }

// All returns every registered fixer.
func All() []Fixer { return fixers }

// ByName returns the fixer for the named unit, if there is one.
func ByName(name string) (Fixer, bool) {
	for _, f := range fixers {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// Apply runs the fixer for every failed unit that has one and returns the
// names it repaired. Units without a fixer, and fixers that fail, are left
// out of the result.
func Apply(dir string, failed []string, out io.Writer) []string {
	if out == nil {
		out = io.Discard
	}
	src := filepath.Join(dir, SourceDir)

	var repaired []string
	seen := make(map[string]bool)
	for _, name := range failed {
		if seen[name] {
			continue
		}
		seen[name] = true

		f, ok := ByName(name)
		if !ok {
			logger.Debugf("no fallback for %s", name)
			continue
		}
		fmt.Fprintf(out, "\n  applying manual fix: %s\n", name)
		n, err := f.Fix(src, out)
		if err != nil {
			logger.Warningf("fallback %s: %v", name, err)
			fmt.Fprintf(out, "    fix failed: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "    fixed %d file(s).\n", n)
		repaired = append(repaired, name)
	}
	return repaired
}
