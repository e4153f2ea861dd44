package formula

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// MatchesVersionSpec evaluates a manifest dependency's version_spec
// (an exact version, a semver range predicate, or "*") against a
// candidate formula version.
func MatchesVersionSpec(version, spec string) (bool, error) {
	if spec == "" || spec == "*" {
		return true, nil
	}

	v, err := semver.NewVersion(normalizeVersion(version))
	if err != nil {
		return false, fmt.Errorf("formula: parse version %q: %w", version, err)
	}

	// An exact, unconstrained version string (no operator/range syntax)
	// is compared for equality rather than as a constraint, since bare
	// versions like "1.2.3" are valid (if overly narrow) semver
	// constraints too but the intent here is pinning.
	if exact, err := semver.NewVersion(normalizeVersion(spec)); err == nil && isBareVersion(spec) {
		return v.Equal(exact), nil
	}

	c, err := semver.NewConstraint(spec)
	if err != nil {
		return false, fmt.Errorf("formula: parse version spec %q: %w", spec, err)
	}
	return c.Check(v), nil
}

// isBareVersion reports whether spec contains no constraint operators,
// i.e. it is meant as an exact pin rather than a range.
func isBareVersion(spec string) bool {
	for _, r := range spec {
		switch r {
		case '<', '>', '=', '~', '^', ',', ' ', '*', 'x', 'X':
			return false
		}
	}
	return true
}
