package version

import (
	mm "github.com/Masterminds/semver/v3"
)

// Select picks one published version for a desired version expression.
//
// Preference order over stable candidates:
//  1. exact match of the desired version (range marker stripped)
//  2. same major, at or above desired, lowest first
//  3. same major, highest
//  4. any version at or above desired, lowest first
//  5. highest stable version
//
// When versions is empty, or holds no stable release, desired is returned
// unchanged.
func Select(versions []string, desired string) string {
	cands := stableCandidates(versions)
	if len(cands) == 0 {
		return desired
	}

	clean := StripRange(desired)
	target, err := mm.NewVersion(clean)
	if err != nil {
		return cands[len(cands)-1].raw
	}
	target = tripleOf(target)

	for _, c := range cands {
		if c.raw == clean {
			return c.raw
		}
	}

	for _, c := range cands {
		if c.v.Major() == target.Major() && !c.v.LessThan(target) {
			return c.raw
		}
	}

	for i := len(cands) - 1; i >= 0; i-- {
		if cands[i].v.Major() == target.Major() {
			return cands[i].raw
		}
	}

	for _, c := range cands {
		if !c.v.LessThan(target) {
			return c.raw
		}
	}

	return cands[len(cands)-1].raw
}
