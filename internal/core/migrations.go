package core

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/juju/errors"
	"github.com/tidwall/gjson"

	"github.com/barysiuk/ngstep/internal/core/version"
)

// RunnerFileName is the versioned migration runner installed in the config
// directory. Bump the suffix whenever the script changes.
const RunnerFileName = "runner-v1.cjs"

//go:embed runner/runner-v1.cjs
var runnerScript []byte

// UnknownVersion marks a catalog entry that declares no version.
const UnknownVersion = "unknown"

var catalogFallbacks = []string{"migrations.json", "migration.json", "schematics/migrations.json"}

// MigrationUnit is one framework migration scheduled for a transition.
type MigrationUnit struct {
	Package    string
	Collection string // absolute path of the catalog file
	Name       string
	Version    string
}

// FindCatalog locates the migration catalog an installed package declares
// through "ng-update.migrations", falling back to conventional file names.
func FindCatalog(dir, pkg string) (string, bool) {
	pkgDir := filepath.Join(dir, "node_modules", filepath.FromSlash(pkg))
	data, err := os.ReadFile(filepath.Join(pkgDir, ManifestFileName))
	if err != nil {
		return "", false
	}
	candidates := catalogFallbacks
	if declared := gjson.GetBytes(data, `ng-update.migrations`); declared.Type == gjson.String && declared.Str != "" {
		candidates = append([]string{declared.Str}, catalogFallbacks...)
	}
	for _, c := range candidates {
		path := filepath.Join(pkgDir, filepath.FromSlash(c))
		if fileExists(path) {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, true
			}
			return abs, true
		}
	}
	return "", false
}

// MigrationsBetween lists the catalog's schematics whose version lies in
// (from, to], ordered by version. Entries without a version are included
// and sort last.
func MigrationsBetween(collection, from, to string) ([]MigrationUnit, error) {
	data, err := os.ReadFile(collection)
	if err != nil {
		return nil, errors.Annotate(err, "reading migration catalog")
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.NotValidf("migration catalog %s", collection)
	}

	var units []MigrationUnit
	gjson.GetBytes(data, "schematics").ForEach(func(key, value gjson.Result) bool {
		v := value.Get("version")
		if !v.Exists() || v.String() == "" {
			units = append(units, MigrationUnit{Collection: collection, Name: key.String(), Version: UnknownVersion})
			return true
		}
		in, ok := version.Within(v.String(), from, to)
		if !ok {
			logger.Warningf("skipping migration %s: unparsable version %q", key.String(), v.String())
			return true
		}
		if in {
			units = append(units, MigrationUnit{Collection: collection, Name: key.String(), Version: v.String()})
		}
		return true
	})

	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i].Version, units[j].Version
		if a == UnknownVersion || b == UnknownVersion {
			return a != UnknownVersion && b == UnknownVersion
		}
		return version.Compare(a, b) < 0
	})
	return units, nil
}

// DiscoverMigrations collects the units of every migration range in t from
// the packages installed in dir.
func DiscoverMigrations(dir string, t Transition, out io.Writer) []MigrationUnit {
	var all []MigrationUnit
	for _, r := range t.Migrations {
		pkg := r.PackageName()
		fmt.Fprintf(out, "\n  package: %s (%s -> %s)\n", pkg, r.From, r.To)

		collection, ok := FindCatalog(dir, pkg)
		if !ok {
			logger.Warningf("no migration catalog for %s", pkg)
			fmt.Fprintf(out, "  no migrations collection found. skipping.\n")
			continue
		}
		fmt.Fprintf(out, "  collection: %s\n", collection)

		units, err := MigrationsBetween(collection, r.From, r.To)
		if err != nil {
			logger.Warningf("%s: %v", pkg, err)
			continue
		}
		if len(units) == 0 {
			fmt.Fprintf(out, "  no migrations in range. skipping.\n")
			continue
		}
		fmt.Fprintf(out, "  found %d migration(s):\n", len(units))
		for i := range units {
			units[i].Package = pkg
			fmt.Fprintf(out, "    - %s (v%s)\n", units[i].Name, units[i].Version)
		}
		all = append(all, units...)
	}
	return all
}

// MigrationResult is the outcome of one migration unit. A failed unit is not
// an error.
type MigrationResult struct {
	OK       bool
	Output   string
	ExitCode int
}

// MigrationRunner executes one migration unit against the project.
type MigrationRunner interface {
	Run(ctx context.Context, collection, unit string) (MigrationResult, error)
}

// InstallRunner writes the embedded runner script into runnerDir unless an
// identical copy is already there, and returns its path.
func InstallRunner(runnerDir string) (string, error) {
	path := filepath.Join(runnerDir, RunnerFileName)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, runnerScript) {
		return path, nil
	}
	if err := os.MkdirAll(runnerDir, 0o755); err != nil {
		return "", errors.Annotate(err, "creating runner directory")
	}
	if err := writeFileAtomic(path, runnerScript); err != nil {
		return "", errors.Annotate(err, "installing migration runner")
	}
	return path, nil
}

// NodeMigrationRunner runs units through the installed runner script with
// node, from the project directory so the project's own devkit is used.
type NodeMigrationRunner struct {
	exec    Executor
	node    string
	script  string
	dir     string
	timeout time.Duration
	out     io.Writer
}

// NewNodeMigrationRunner creates a runner for the project in dir.
func NewNodeMigrationRunner(exec Executor, s Settings, dir, script string, out io.Writer) *NodeMigrationRunner {
	node := s.NodeCommand
	if node == "" {
		node = "node"
	}
	return &NodeMigrationRunner{
		exec:    exec,
		node:    node,
		script:  script,
		dir:     dir,
		timeout: s.MigrationTimeout.Std(),
		out:     out,
	}
}

// Run executes one unit. Only a process that cannot be started, or a
// cancelled context, is an error.
func (r *NodeMigrationRunner) Run(ctx context.Context, collection, unit string) (MigrationResult, error) {
	res, err := r.exec.Run(ctx, Command{
		Name:    r.node,
		Args:    []string{r.script, collection, unit},
		Dir:     r.dir,
		Timeout: r.timeout,
		Stream:  r.out,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return MigrationResult{ExitCode: -1, Output: res.Output}, errors.Trace(ctxErr)
	}
	if err != nil && !errors.Is(err, errors.Timeout) {
		return MigrationResult{ExitCode: -1, Output: res.Output}, errors.Annotatef(err, "running migration %s", unit)
	}
	return MigrationResult{OK: res.OK(), Output: res.Output, ExitCode: res.ExitCode}, nil
}
