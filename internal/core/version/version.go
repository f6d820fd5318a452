// Package version implements version-string handling for npm-style
// constraints and the best-available selection policy used when the
// registry cannot satisfy a requested version exactly.
//
// It is a thin layer over github.com/Masterminds/semver/v3. Only the
// major.minor.patch triple takes part in comparisons.
package version

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	mm "github.com/Masterminds/semver/v3"
)

var (
	rangePrefix   = regexp.MustCompile(`^[\^~>=<\s]+`)
	leadingMajor  = regexp.MustCompile(`^(\d+)`)
	compatPrefix  = regexp.MustCompile(`^[\^~]`)
	majorMinorRef = regexp.MustCompile(`^(\d+)\.(\d+)`)
)

// StripRange removes a leading range operator such as "^", "~" or ">=".
func StripRange(s string) string {
	return rangePrefix.ReplaceAllString(s, "")
}

// CompatPrefix returns the "^" or "~" marker at the start of s, if any.
func CompatPrefix(s string) string {
	return compatPrefix.FindString(s)
}

// Major returns the leading major number of a version or constraint.
func Major(s string) (int, bool) {
	m := leadingMajor.FindStringSubmatch(StripRange(s))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// MajorMinor returns "X.Y" for a version or constraint, or "" if s has no
// major.minor prefix.
func MajorMinor(s string) string {
	m := majorMinorRef.FindStringSubmatch(StripRange(s))
	if m == nil {
		return ""
	}
	return m[1] + "." + m[2]
}

// Compare orders two version strings by their major.minor.patch triple.
// Strings that do not parse compare as equal, matching how migration
// catalogs with odd version fields are tolerated.
func Compare(a, b string) int {
	va, errA := mm.NewVersion(StripRange(a))
	vb, errB := mm.NewVersion(StripRange(b))
	if errA != nil || errB != nil {
		return 0
	}
	return tripleOf(va).Compare(tripleOf(vb))
}

// ValidateConstraint reports whether s is a usable version constraint.
func ValidateConstraint(s string) error {
	if _, err := mm.NewConstraint(s); err != nil {
		return fmt.Errorf("invalid constraint %q: %w", s, err)
	}
	return nil
}

// Satisfies reports whether a declared version or range already meets a
// constraint. The declared lower bound is what gets checked, so "~7.8.2"
// satisfies "~7.8.1" while "^7.0.0" does not. Declarations that do not
// parse only match a constraint with the same bare version.
func Satisfies(declared, constraint string) bool {
	if StripRange(declared) == StripRange(constraint) {
		return true
	}
	v, err := mm.NewVersion(StripRange(declared))
	if err != nil {
		return false
	}
	c, err := mm.NewConstraint(constraint)
	if err != nil {
		return false
	}
	return c.Check(tripleOf(v))
}

// Stable returns the entries of versions that are full major.minor.patch
// releases without a prerelease tag, sorted ascending. Build metadata is
// tolerated and ignored for ordering.
func Stable(versions []string) []string {
	cands := stableCandidates(versions)
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.raw
	}
	return out
}

type candidate struct {
	raw string
	v   *mm.Version
}

func stableCandidates(versions []string) []candidate {
	var cands []candidate
	for _, raw := range versions {
		v, err := mm.StrictNewVersion(raw)
		if err != nil || v.Prerelease() != "" {
			continue
		}
		cands = append(cands, candidate{raw: raw, v: tripleOf(v)})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].v.LessThan(cands[j].v)
	})
	return cands
}

// tripleOf drops prerelease and metadata so only major.minor.patch compare.
func tripleOf(v *mm.Version) *mm.Version {
	return mm.New(v.Major(), v.Minor(), v.Patch(), "", "")
}

// Within reports whether v lies in the range (from, to] by major.minor.patch.
// ok is false when any of the three does not parse.
func Within(v, from, to string) (in, ok bool) {
	vv, err1 := mm.NewVersion(StripRange(v))
	vf, err2 := mm.NewVersion(StripRange(from))
	vt, err3 := mm.NewVersion(StripRange(to))
	if err1 != nil || err2 != nil || err3 != nil {
		return false, false
	}
	t := tripleOf(vv)
	return t.GreaterThan(tripleOf(vf)) && !t.GreaterThan(tripleOf(vt)), true
}
