package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/tidwall/gjson"

	"github.com/barysiuk/ngstep/internal/core/version"
)

// Workspace files that mark an Angular project root.
const (
	WorkspaceFile       = "angular.json"
	LegacyWorkspaceFile = ".angular-cli.json"
)

// CheckWorkspace verifies dir holds package.json and an Angular workspace
// file.
func CheckWorkspace(dir string) error {
	if !fileExists(filepath.Join(dir, ManifestFileName)) {
		return errors.NotFoundf("%s in %s (run from the project root)", ManifestFileName, dir)
	}
	if !fileExists(filepath.Join(dir, WorkspaceFile)) && !fileExists(filepath.Join(dir, LegacyWorkspaceFile)) {
		return errors.NotFoundf("%s in %s (run from the project root)", WorkspaceFile, dir)
	}
	return nil
}

// Environment is the toolchain snapshot recorded with every ledger entry.
type Environment struct {
	Node string
	Npm  string
}

// NodeMajor returns the major version of the node runtime.
func (e Environment) NodeMajor() (int, bool) {
	return version.Major(strings.TrimPrefix(e.Node, "v"))
}

// SnapshotEnvironment queries node and npm for their versions.
func SnapshotEnvironment(ctx context.Context, exec Executor, s Settings, dir string) Environment {
	node := s.NodeCommand
	if node == "" {
		node = "node"
	}
	npm := s.NpmCommand
	if npm == "" {
		npm = "npm"
	}
	return Environment{
		Node: strings.TrimPrefix(commandVersion(ctx, exec, node, dir), "v"),
		Npm:  commandVersion(ctx, exec, npm, dir),
	}
}

// CheckNodeMajor fails unless the node runtime has the required major.
// A required major of 0 disables the check.
func CheckNodeMajor(env Environment, required int) error {
	if required == 0 {
		return nil
	}
	major, ok := env.NodeMajor()
	if !ok || major != required {
		return errors.NotValidf("node %s (need node %d)", env.Node, required)
	}
	return nil
}

// InstalledTypeScript returns the version of typescript in node_modules.
func InstalledTypeScript(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "node_modules", "typescript", ManifestFileName))
	if err != nil {
		return "", false
	}
	v := gjson.GetBytes(data, "version")
	if v.Type != gjson.String || v.Str == "" {
		return "", false
	}
	return v.Str, true
}

// EnsureTypeScript installs the expected typescript when the installed
// major.minor differs. A failed install is logged and left for the
// migration fallbacks to absorb.
func EnsureTypeScript(ctx context.Context, exec Executor, s Settings, dir, expected string, out io.Writer) {
	installed, ok := InstalledTypeScript(dir)
	if !ok {
		return
	}
	fmt.Fprintf(out, "\n  typescript version: %s (expected: %s)\n", installed, expected)
	if version.MajorMinor(installed) == version.MajorMinor(expected) {
		return
	}

	logger.Warningf("typescript %s installed, migrations expect %s", installed, expected)
	npm := s.NpmCommand
	if npm == "" {
		npm = "npm"
	}
	res, err := exec.Run(ctx, Command{
		Name:    npm,
		Args:    []string{"install", "typescript@" + expected, "--save-dev", "--force"},
		Dir:     dir,
		Timeout: s.InstallTimeout.Std(),
		Stream:  out,
	})
	if err != nil || !res.OK() {
		logger.Warningf("could not install typescript@%s; migrations may fail", expected)
		fmt.Fprintf(out, "  could not correct typescript; manual fallbacks will be used.\n")
		return
	}
	if now, ok := InstalledTypeScript(dir); ok {
		fmt.Fprintf(out, "  typescript corrected to: %s\n", now)
	}
}
