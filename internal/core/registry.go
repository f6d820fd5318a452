package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/tidwall/gjson"

	"github.com/barysiuk/ngstep/internal/core/version"
)

// RegistryError reports a failed registry query.
type RegistryError struct {
	Package string
	Query   string // "versions" or "version"
	Output  string
	Err     error
}

// Error implements the error interface.
func (e *RegistryError) Error() string {
	msg := fmt.Sprintf("registry query %s %s failed", e.Package, e.Query)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RegistryError) Unwrap() error { return e.Err }

// VersionSource lists published versions of a package.
type VersionSource interface {
	ListVersions(ctx context.Context, name string) ([]string, error)
	LatestVersion(ctx context.Context, name string) (string, error)
}

// Npm runs the npm client against one project directory.
type Npm struct {
	exec            Executor
	dir             string
	command         string
	registryTimeout time.Duration
	installTimeout  time.Duration
	out             io.Writer
}

// NewNpm creates an npm client for dir. Install output is mirrored to out
// when it is non-nil.
func NewNpm(exec Executor, dir string, s Settings, out io.Writer) *Npm {
	command := s.NpmCommand
	if command == "" {
		command = "npm"
	}
	return &Npm{
		exec:            exec,
		dir:             dir,
		command:         command,
		registryTimeout: s.RegistryTimeout.Std(),
		installTimeout:  s.InstallTimeout.Std(),
		out:             out,
	}
}

// ListVersions returns every published version of name.
func (n *Npm) ListVersions(ctx context.Context, name string) ([]string, error) {
	r, err := n.view(ctx, name, "versions")
	if err != nil {
		return nil, err
	}
	switch {
	case r.Type == gjson.String:
		return []string{r.Str}, nil
	case r.IsArray():
		var versions []string
		for _, v := range r.Array() {
			if v.Type == gjson.String {
				versions = append(versions, v.Str)
			}
		}
		return versions, nil
	}
	return nil, &RegistryError{Package: name, Query: "versions", Output: r.Raw, Err: errors.NotValidf("versions payload")}
}

// LatestVersion returns the version tagged latest.
func (n *Npm) LatestVersion(ctx context.Context, name string) (string, error) {
	r, err := n.view(ctx, name, "version")
	if err != nil {
		return "", err
	}
	if r.Type != gjson.String || r.Str == "" {
		return "", &RegistryError{Package: name, Query: "version", Output: r.Raw, Err: errors.NotValidf("version payload")}
	}
	return r.Str, nil
}

func (n *Npm) view(ctx context.Context, name, field string) (gjson.Result, error) {
	res, err := n.exec.Run(ctx, Command{
		Name:    n.command,
		Args:    []string{"view", "--json", name, field},
		Dir:     n.dir,
		Timeout: n.registryTimeout,
	})
	if err != nil {
		return gjson.Result{}, &RegistryError{Package: name, Query: field, Output: res.Output, Err: err}
	}
	if !res.OK() {
		return gjson.Result{}, &RegistryError{
			Package: name,
			Query:   field,
			Output:  res.Output,
			Err:     errors.Errorf("exit status %d", res.ExitCode),
		}
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" || !gjson.Valid(out) {
		return gjson.Result{}, &RegistryError{Package: name, Query: field, Output: res.Output, Err: errors.NotValidf("JSON output")}
	}
	return gjson.Parse(out), nil
}

// Install runs npm install with args, forcing resolution and verbose logs.
func (n *Npm) Install(ctx context.Context, args ...string) (Result, error) {
	full := append([]string{"install"}, args...)
	full = append(full, "--force", "--loglevel", "verbose")
	return n.exec.Run(ctx, Command{
		Name:    n.command,
		Args:    full,
		Dir:     n.dir,
		Timeout: n.installTimeout,
		Stream:  n.out,
	})
}

// Version returns the npm client version, or "unknown".
func (n *Npm) Version(ctx context.Context) string {
	return commandVersion(ctx, n.exec, n.command, n.dir)
}

// RegistryResolver picks the version to request for a package, falling back
// to the desired constraint when the registry cannot be queried.
type RegistryResolver struct {
	source VersionSource
	strict bool
}

// NewRegistryResolver creates a resolver over source. In strict mode query
// failures are returned instead of recovered.
func NewRegistryResolver(source VersionSource, strict bool) *RegistryResolver {
	return &RegistryResolver{source: source, strict: strict}
}

// Resolve returns the best published version for wanted. "latest" resolves
// to the version tagged latest.
func (r *RegistryResolver) Resolve(ctx context.Context, name, wanted string) (string, error) {
	if wanted == "latest" {
		v, err := r.source.LatestVersion(ctx, name)
		if err != nil {
			return r.recover(name, wanted, err)
		}
		return v, nil
	}

	versions, err := r.source.ListVersions(ctx, name)
	if err != nil {
		return r.recover(name, wanted, err)
	}
	if len(versions) == 0 {
		return r.recover(name, wanted, &RegistryError{Package: name, Query: "versions", Err: errors.NotFoundf("published versions")})
	}

	picked := version.Select(versions, wanted)
	if picked != version.StripRange(wanted) {
		logger.Infof("%s: %s unavailable, using %s", name, wanted, picked)
	}
	return picked, nil
}

func (r *RegistryResolver) recover(name, wanted string, err error) (string, error) {
	if r.strict {
		return "", errors.Annotatef(err, "resolving %s@%s", name, wanted)
	}
	logger.Warningf("%v; keeping %s@%s", err, name, wanted)
	return wanted, nil
}

// commandVersion runs "<command> --version" and returns its first line.
func commandVersion(ctx context.Context, exec Executor, command, dir string) string {
	res, err := exec.Run(ctx, Command{
		Name:    command,
		Args:    []string{"--version"},
		Dir:     dir,
		Timeout: 30 * time.Second,
	})
	if err != nil || !res.OK() {
		return "unknown"
	}
	line := strings.TrimSpace(res.Stdout)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return "unknown"
	}
	return line
}
