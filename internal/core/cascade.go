package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
)

const (
	// ErrInstallFailed reports a dependency install that could not be repaired.
	ErrInstallFailed = errors.ConstError("dependency install failed")
	// ErrMigrationsIncomplete reports migration units that failed without a fallback.
	ErrMigrationsIncomplete = errors.ConstError("migrations incomplete")
)

// Is lets errors.Is match any install failure against ErrInstallFailed.
func (f *InstallFailure) Is(target error) bool { return target == ErrInstallFailed }

const lockArtifact = "package-lock.json"

// PackageInstaller runs npm install in the project.
type PackageInstaller interface {
	Install(ctx context.Context, args ...string) (Result, error)
}

// VersionResolver picks the version to request for a package.
type VersionResolver interface {
	Resolve(ctx context.Context, name, wanted string) (string, error)
}

// CascadeResult is the outcome of one cascade run.
type CascadeResult struct {
	OK       bool
	Resolved map[string]string // package -> version pinned by this run
	Reason   string            // why the cascade aborted
}

// RepairConfig configures a DependencyRepairer.
type RepairConfig struct {
	Dir       string
	Installer PackageInstaller
	Resolver  VersionResolver
	Parser    FailureParser // defaults to NpmFailureParser
	Attempts  int
	MaxDepth  int
	Out       io.Writer // progress output; nil discards
	Metrics   *Metrics
}

// DependencyRepairer installs a project's dependencies, substituting
// published versions for ones the registry cannot supply.
type DependencyRepairer struct {
	dir       string
	installer PackageInstaller
	resolver  VersionResolver
	parser    FailureParser
	attempts  int
	maxDepth  int
	out       io.Writer
	metrics   *Metrics
}

// NewDependencyRepairer creates a DependencyRepairer.
func NewDependencyRepairer(cfg RepairConfig) *DependencyRepairer {
	r := &DependencyRepairer{
		dir:       cfg.Dir,
		installer: cfg.Installer,
		resolver:  cfg.Resolver,
		parser:    cfg.Parser,
		attempts:  cfg.Attempts,
		maxDepth:  cfg.MaxDepth,
		out:       cfg.Out,
		metrics:   cfg.Metrics,
	}
	if r.parser == nil {
		r.parser = NpmFailureParser{}
	}
	if r.attempts <= 0 {
		r.attempts = 30
	}
	if r.maxDepth <= 0 {
		r.maxDepth = 20
	}
	if r.out == nil {
		r.out = io.Discard
	}
	return r
}

// Install runs npm install until it succeeds, repairing override conflicts
// and missing packages between attempts. It stops on an unclassified
// failure, a missing package that reappears after repair, a failed cascade,
// or when attempts run out.
func (r *DependencyRepairer) Install(ctx context.Context) error {
	seen := make(map[string]bool)
	resolved := make(map[string]string)

	for attempt := 1; attempt <= r.attempts; attempt++ {
		fmt.Fprintf(r.out, "\n%s\n  npm install --force (attempt %d/%d)\n%s\n", rule, attempt, r.attempts, rule)

		if err := r.syncOverrides(); err != nil {
			return errors.Trace(err)
		}
		if err := os.Remove(filepath.Join(r.dir, lockArtifact)); err != nil && !os.IsNotExist(err) {
			return errors.Annotatef(err, "removing %s", lockArtifact)
		}

		res, err := r.installer.Install(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Trace(ctxErr)
		}
		if err == nil && res.OK() {
			r.metrics.installAttempt("ok")
			return nil
		}
		r.metrics.installAttempt("failed")

		f := r.parser.Parse(res.Output)
		switch f.Kind {
		case FailureOverrideConflict:
			fmt.Fprintf(r.out, "\n>> override conflict: %s\n", f.Name)
			if err := r.repin(f); err != nil {
				return errors.Trace(err)
			}

		case FailureMissingPackage:
			fmt.Fprintf(r.out, "\n>> missing: %s@%s\n", f.Name, f.Wanted)
			key := f.Name + "@" + f.Wanted
			if seen[key] {
				return errors.Annotatef(f, "%s still missing after repair", key)
			}
			seen[key] = true

			picked, err := r.resolver.Resolve(ctx, f.Name, f.Wanted)
			if err != nil {
				return errors.Annotatef(ErrInstallFailed, "resolving %s: %v", key, err)
			}
			cas, err := r.Cascade(ctx, f.Name, picked, r.maxDepth)
			for name, v := range cas.Resolved {
				resolved[name] = v
			}
			if err != nil {
				return errors.Trace(err)
			}
			if !cas.OK {
				return errors.Annotatef(ErrInstallFailed, "cascade from %s: %s", key, cas.Reason)
			}
			fmt.Fprintf(r.out, "\n>> resolved %d package(s): %s. Retrying...\n", len(cas.Resolved), formatResolved(cas.Resolved))

		default:
			if err != nil {
				logger.Debugf("install attempt %d: %v", attempt, err)
			}
			return errors.Annotatef(f, "attempt %d", attempt)
		}
	}
	return errors.Annotatef(ErrInstallFailed, "gave up after %d attempts", r.attempts)
}

// Cascade pins name@version and installs it. While npm reports a further
// missing package it pins a substitute for that one too, up to maxDepth
// pins. A package that comes up twice is a cycle.
func (r *DependencyRepairer) Cascade(ctx context.Context, name, version string, maxDepth int) (CascadeResult, error) {
	res := CascadeResult{Resolved: make(map[string]string)}
	cur, ver := name, version

	for depth := 0; depth < maxDepth; depth++ {
		fmt.Fprintf(r.out, "\n  [cascade %d] %s@%s\n", depth+1, cur, ver)
		if err := r.pin(cur, ver); err != nil {
			return res, errors.Trace(err)
		}
		res.Resolved[cur] = ver

		out, err := r.installer.Install(ctx, cur+"@"+ver)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, errors.Trace(ctxErr)
		}
		if err == nil && out.OK() {
			res.OK = true
			r.metrics.cascade(len(res.Resolved))
			return res, nil
		}

		f := r.parser.Parse(out.Output)
		if f.Kind != FailureMissingPackage {
			res.Reason = fmt.Sprintf("installing %s@%s failed without a missing-package signature", cur, ver)
			r.metrics.cascade(len(res.Resolved))
			return res, nil
		}
		if _, dup := res.Resolved[f.Name]; dup {
			fmt.Fprintf(r.out, "  circular: %s\n", f.Name)
			res.Reason = fmt.Sprintf("cycle on %s", f.Name)
			r.metrics.cascade(len(res.Resolved))
			return res, nil
		}

		picked, err := r.resolver.Resolve(ctx, f.Name, f.Wanted)
		if err != nil {
			res.Reason = err.Error()
			r.metrics.cascade(len(res.Resolved))
			return res, nil
		}
		cur, ver = f.Name, picked
	}

	res.Reason = fmt.Sprintf("depth %d exceeded", maxDepth)
	r.metrics.cascade(len(res.Resolved))
	return res, nil
}

func (r *DependencyRepairer) pin(name, version string) error {
	m, err := ReadManifest(r.dir)
	if err != nil {
		return errors.Trace(err)
	}
	if err := m.AddResolution(name, version); err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(r.out, "  override: %s -> %s\n", name, version)
	return errors.Trace(m.Save())
}

func (r *DependencyRepairer) repin(f *InstallFailure) error {
	m, err := ReadManifest(r.dir)
	if err != nil {
		return errors.Trace(err)
	}
	exact, err := m.RepinOverride(f.Name, f.Version)
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("override conflict on %s: re-pinned to %s", f.Name, exact)
	fmt.Fprintf(r.out, "  override: %s -> %s\n", f.Name, exact)
	return errors.Trace(m.Save())
}

func (r *DependencyRepairer) syncOverrides() error {
	m, err := ReadManifest(r.dir)
	if err != nil {
		return errors.Trace(err)
	}
	changed, err := m.SyncOverrides()
	if err != nil {
		return errors.Trace(err)
	}
	if len(changed) == 0 {
		return nil
	}
	fmt.Fprintf(r.out, "  synced overrides: %s\n", strings.Join(changed, ", "))
	return errors.Trace(m.Save())
}

func formatResolved(resolved map[string]string) string {
	names := make([]string, 0, len(resolved))
	for name := range resolved {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "@" + resolved[name]
	}
	return strings.Join(parts, ", ")
}

var rule = strings.Repeat("-", 60)
