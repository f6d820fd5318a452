package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/juju/errors"

	"github.com/barysiuk/ngstep/internal/core/version"
)

// FailureKind classifies why an npm install attempt failed.
type FailureKind int

const (
	// FailureUnclassified is an install failure with no recognized signature.
	FailureUnclassified FailureKind = iota
	// FailureMissingPackage means no published version satisfies a requested range.
	FailureMissingPackage
	// FailureOverrideConflict means a pinned override disagrees with a declared dependency.
	FailureOverrideConflict
)

// String returns a human-readable label for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureMissingPackage:
		return "Missing Package"
	case FailureOverrideConflict:
		return "Override Conflict"
	default:
		return "Unclassified Failure"
	}
}

// InstallFailure is a classified npm install diagnostic.
type InstallFailure struct {
	Kind      FailureKind
	Name      string // package the diagnostic refers to
	Wanted    string // range npm could not satisfy (missing package)
	Version   string // override version, range prefix stripped (override conflict)
	RawOutput string
	Hints     []string
}

// Error implements the error interface.
func (f *InstallFailure) Error() string {
	switch f.Kind {
	case FailureMissingPackage:
		return fmt.Sprintf("npm install failed (%s): %s@%s", f.Kind, f.Name, f.Wanted)
	case FailureOverrideConflict:
		return fmt.Sprintf("npm install failed (%s): %s@%s", f.Kind, f.Name, f.Version)
	}
	return fmt.Sprintf("npm install failed (%s): %s", f.Kind, f.firstLine())
}

// firstLine returns the first npm error line for a concise message.
func (f *InstallFailure) firstLine() string {
	var fallback string
	for _, line := range strings.Split(f.RawOutput, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if fallback == "" {
			fallback = line
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "npm err") || strings.HasPrefix(lower, "npm error") {
			return line
		}
	}
	if fallback != "" {
		return fallback
	}
	return "install failed"
}

// IsInstallFailure checks whether err wraps an *InstallFailure and returns it.
func IsInstallFailure(err error) (*InstallFailure, bool) {
	var f *InstallFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// FailureParser turns install diagnostics into a classified failure.
type FailureParser interface {
	Parse(output string) *InstallFailure
}

// NpmFailureParser recognizes npm's missing-version and EOVERRIDE diagnostics.
type NpmFailureParser struct{}

// Parse classifies output. Override conflicts take precedence over missing
// packages when both signatures are present.
func (NpmFailureParser) Parse(output string) *InstallFailure {
	f := &InstallFailure{Kind: FailureUnclassified, RawOutput: strings.TrimSpace(output)}
	if name, ver, ok := parseOverrideConflict(output); ok {
		f.Kind = FailureOverrideConflict
		f.Name = name
		f.Version = ver
	} else if name, wanted, ok := parseMissingPackage(output); ok {
		f.Kind = FailureMissingPackage
		f.Name = name
		f.Wanted = wanted
	}
	f.Hints = hintsForFailure(f)
	return f
}

const (
	pkgNamePattern    = `(@?[^@\s]+(?:/[^@\s]+)?)`
	pkgVersionPattern = `([^\s.]+(?:\.[^\s.]+)*)`
)

// Ordered from most to least specific; the first match wins.
var missingPackagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)No matching version found for\s+` + pkgNamePattern + `@` + pkgVersionPattern),
	regexp.MustCompile(`(?i)notarget\s+No matching version found for\s+` + pkgNamePattern + `@` + pkgVersionPattern),
	regexp.MustCompile(`(?is)ETARGET.*?` + pkgNamePattern + `@` + pkgVersionPattern),
	regexp.MustCompile(`(?is)404\s+.*?'(@?[^@']+)@([^']+)'\s+is not in`),
	regexp.MustCompile(`(?is)E404.*?` + pkgNamePattern + `@(\S+)`),
}

var overrideConflictPattern = regexp.MustCompile(`(?i)Override for\s+` + pkgNamePattern + `@(\S+)\s+conflicts`)

// parseMissingPackage extracts the package and range npm could not satisfy.
func parseMissingPackage(output string) (name, wanted string, ok bool) {
	for _, re := range missingPackagePatterns {
		m := re.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		name = strings.TrimSpace(m[1])
		wanted = strings.TrimSuffix(strings.TrimSpace(m[2]), ".")
		if name == "" || name == "undefined" || wanted == "" {
			continue
		}
		return name, wanted, true
	}
	return "", "", false
}

// parseOverrideConflict extracts the package named by an EOVERRIDE error.
// An EOVERRIDE without a recognizable package is not classified.
func parseOverrideConflict(output string) (name, ver string, ok bool) {
	if !strings.Contains(output, "EOVERRIDE") {
		return "", "", false
	}
	m := overrideConflictPattern.FindStringSubmatch(output)
	if m == nil {
		return "", "", false
	}
	return m[1], version.StripRange(m[2]), true
}

func hintsForFailure(f *InstallFailure) []string {
	switch f.Kind {
	case FailureMissingPackage:
		return []string{
			fmt.Sprintf("Run `npm view %s versions` to see what the registry publishes", f.Name),
		}
	case FailureOverrideConflict:
		return []string{
			fmt.Sprintf("Check the \"overrides\" entry for %s in package.json", f.Name),
		}
	default:
		return []string{
			"Re-run with --log-level DEBUG to see the full npm output",
			"Delete node_modules and retry if the tree is corrupted",
		}
	}
}
