// Package formula implements velo's in-memory formula model (C2) and its
// tolerant Homebrew-DSL parser (C3).
package formula

import "strings"

// DependencyKind classifies a Dependency edge. Only Required edges are
// traversed by the install core; Build is recorded but never followed
// unless a caller opts in, which nothing in this repo currently does.
type DependencyKind string

const (
	DependencyRequired    DependencyKind = "required"
	DependencyRecommended DependencyKind = "recommended"
	DependencyOptional    DependencyKind = "optional"
	DependencyBuild       DependencyKind = "build"
)

// Dependency is one formula dependency edge with its version predicates
// (">=1.2", "~>2", a bare version, etc.), recorded as operator plus
// version with any whitespace between them removed, and not evaluated by
// this package.
type Dependency struct {
	Name        string
	Kind        DependencyKind
	Constraints []string
}

// Platform is the closed enum of Homebrew bottle platform tags this
// package understands.
type Platform string

const (
	PlatformArm64Monterey Platform = "arm64_monterey"
	PlatformArm64Ventura  Platform = "arm64_ventura"
	PlatformArm64Sonoma   Platform = "arm64_sonoma"
	PlatformArm64Sequoia  Platform = "arm64_sequoia"
	PlatformMonterey      Platform = "monterey"
	PlatformVentura       Platform = "ventura"
	PlatformSonoma        Platform = "sonoma"
	PlatformSequoia       Platform = "sequoia"
	PlatformBigSur        Platform = "big_sur"
	PlatformCatalina      Platform = "catalina"
	PlatformMojave        Platform = "mojave"
	PlatformAll           Platform = "all"
)

// Arch is the architecture tag a Platform carries.
type Arch string

const (
	ArchArm64     Arch = "arm64"
	ArchX86_64    Arch = "x86_64"
	ArchUniversal Arch = "universal"
)

// platformInfo describes the OS major version and architecture a
// Platform tag implies, plus its priority tier (higher wins).
type platformInfo struct {
	osMajor  int
	arch     Arch
	priority int
}

// platformTable is the closed enum's metadata. Priority tiers: native
// arm64 > universal > foreign-arch (x86_64 via Rosetta), newer OS
// preferred within a tier.
var platformTable = map[Platform]platformInfo{
	PlatformArm64Sequoia:  {15, ArchArm64, 30},
	PlatformArm64Sonoma:   {14, ArchArm64, 30},
	PlatformArm64Ventura:  {13, ArchArm64, 30},
	PlatformArm64Monterey: {12, ArchArm64, 30},
	PlatformAll:           {0, ArchUniversal, 20},
	PlatformSequoia:       {15, ArchX86_64, 10},
	PlatformSonoma:        {14, ArchX86_64, 10},
	PlatformVentura:       {13, ArchX86_64, 10},
	PlatformMonterey:      {12, ArchX86_64, 10},
	PlatformBigSur:        {11, ArchX86_64, 10},
	PlatformCatalina:      {10, ArchX86_64, 10},
	PlatformMojave:        {10, ArchX86_64, 10},
}

// Bottle is one precompiled archive entry for a given platform.
type Bottle struct {
	SHA256   string
	Platform Platform
}

// Info returns the OS major/arch/priority metadata for b.Platform, and
// false if the platform tag is not recognized.
func (b Bottle) Info() (platformInfo, bool) {
	info, ok := platformTable[b.Platform]
	return info, ok
}

// Formula is the in-memory representation of one parsed formula.
type Formula struct {
	Name               string // may contain '@', e.g. "python@3.11"
	Description        string
	Homepage           string
	SourceURL          string
	SourceSHA256       string // 64 hex chars, or the all-zero placeholder
	Version            string // non-empty
	Dependencies       []Dependency
	Bottles            []Bottle
	PostInstallScript  string // opaque; never executed by this repo
	HasPostInstall     bool
}

// ZeroSHA256 is the all-zero placeholder used by VCS-sourced formulae
// that have no fixed source archive digest.
var ZeroSHA256 = strings.Repeat("0", 64)

// RequiredDependencies returns only the Required-kind edges, the ones
// the install core traverses.
func (f *Formula) RequiredDependencies() []Dependency {
	var out []Dependency
	for _, d := range f.Dependencies {
		if d.Kind == DependencyRequired {
			out = append(out, d)
		}
	}
	return out
}

// BaseName strips a trailing "@slot" version-slot suffix, so
// "python@3.11" and "python" compare equal as the same underlying
// package.
func BaseName(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '@' {
			return name[:i]
		}
	}
	return name
}
