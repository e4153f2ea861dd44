package formula

import (
	"fmt"
	"sort"
	"strings"
)

// Host identifies the current machine for bottle compatibility checks.
// Constructed once at process entry and treated as immutable thereafter.
type Host struct {
	Arch    Arch // ArchArm64 or ArchX86_64; Apple Silicon is the primary target
	OSMajor int  // e.g. 14 for Sonoma
}

// compatible reports whether bottle b can run on host h: the bottle's OS
// requirement must be <= the host's OS major, and its architecture must
// be reachable (native arm64, universal always, x86_64 via Rosetta on an
// arm64 host).
func compatible(info platformInfo, h Host) bool {
	if info.osMajor > h.OSMajor {
		return false
	}
	switch info.arch {
	case ArchUniversal:
		return true
	case ArchArm64:
		return h.Arch == ArchArm64
	case ArchX86_64:
		// Native on an x86_64 host, or via Rosetta on arm64.
		return true
	default:
		return false
	}
}

// PreferredBottle returns the compatible bottle with the highest
// priority tier, breaking ties by newer OS version. Returns false if no
// bottle in f is compatible with h.
func (f *Formula) PreferredBottle(h Host) (Bottle, bool) {
	var best Bottle
	var bestInfo platformInfo
	found := false

	for _, b := range f.Bottles {
		info, ok := b.Info()
		if !ok || !compatible(info, h) {
			continue
		}
		if !found {
			best, bestInfo, found = b, info, true
			continue
		}
		if info.priority > bestInfo.priority ||
			(info.priority == bestInfo.priority && info.osMajor > bestInfo.osMajor) {
			best, bestInfo = b, info
		}
	}

	return best, found
}

// HasRosettaCompatibleBottle reports whether h is arm64 and f has at
// least one compatible x86_64 bottle (installable only via Rosetta
// translation).
func (f *Formula) HasRosettaCompatibleBottle(h Host) bool {
	if h.Arch != ArchArm64 {
		return false
	}
	for _, b := range f.Bottles {
		info, ok := b.Info()
		if !ok {
			continue
		}
		if info.arch == ArchX86_64 && compatible(info, h) {
			return true
		}
	}
	return false
}

// DefaultRegistryHost is the registry this repo targets by default.
// Host and namespace are configurable so a private mirror can be
// swapped in without code changes.
const DefaultRegistryHost = "ghcr.io"

// DefaultNamespace is the default registry namespace bottles are
// published under.
const DefaultNamespace = "homebrew"

// BottleURL constructs the registry URL for b under formula f: an
// "@version_slot" suffix on the formula name becomes a hierarchical
// "name/slot" path segment.
func BottleURL(registryHost, namespace string, f *Formula, b Bottle) string {
	if registryHost == "" {
		registryHost = DefaultRegistryHost
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	path := formulaPath(f.Name)
	return fmt.Sprintf("https://%s/v2/%s/%s/blobs/sha256:%s", registryHost, namespace, path, b.SHA256)
}

// formulaPath lowercases name and splits a trailing "@slot" into a
// "name/slot" hierarchical path.
func formulaPath(name string) string {
	name = strings.ToLower(name)
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[:i] + "/" + name[i+1:]
	}
	return name
}

// SortedByPriority returns f.Bottles ordered from most to least
// preferred, independent of host compatibility. Used for diagnostics
// and for listing fallback candidates.
func (f *Formula) SortedByPriority() []Bottle {
	out := append([]Bottle(nil), f.Bottles...)
	sort.SliceStable(out, func(i, j int) bool {
		ii, iok := out[i].Info()
		ij, jok := out[j].Info()
		if !iok || !jok {
			return iok && !jok
		}
		if ii.priority != ij.priority {
			return ii.priority > ij.priority
		}
		return ii.osMajor > ij.osMajor
	})
	return out
}
