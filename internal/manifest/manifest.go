// Package manifest implements C11: the project manifest (dependency and
// tap declarations) and its companion lockfile (pinned, reproducible
// resolution results).
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// FileName is the well-known project manifest filename velo looks for
// when walking upward for a project context.
const FileName = "velo.toml"

// Manifest is the project's declared dependency and tap set.
type Manifest struct {
	Dependencies map[string]string `toml:"dependencies"`
	Taps         []string          `toml:"taps,omitempty"`
}

// New returns an empty Manifest.
func New() *Manifest {
	return &Manifest{Dependencies: map[string]string{}}
}

// Load parses a manifest file at path.
func Load(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", path, err)
	}
	if m.Dependencies == nil {
		m.Dependencies = map[string]string{}
	}
	return &m, nil
}

// LoadOrNew loads path if it exists, or returns a fresh empty Manifest.
func LoadOrNew(path string) (*Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, err
	}
	return Load(path)
}

// Save serializes m to path atomically (write-then-rename). Encoding is
// hand-rolled rather than toml.Encoder's struct walk because dependency
// and tap ordering must be stable across saves to keep diffs minimal;
// BurntSushi/toml's map encoding does not guarantee key order.
func (m *Manifest) Save(path string) error {
	var buf bytes.Buffer

	// taps is a top-level key, so it must come before the [dependencies]
	// table header; after it, TOML would read it as a dependency.
	if len(m.Taps) > 0 {
		buf.WriteString("taps = [\n")
		for _, tap := range m.Taps {
			fmt.Fprintf(&buf, "  %q,\n", tap)
		}
		buf.WriteString("]\n\n")
	}

	buf.WriteString("[dependencies]\n")
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&buf, "%s = %q\n", tomlKey(name), m.Dependencies[name])
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("manifest: rename %s: %w", path, err)
	}
	return nil
}

// tomlKey quotes a dependency name as a TOML bare key when safe, or a
// quoted key otherwise (formula names may contain "@").
func tomlKey(name string) string {
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return fmt.Sprintf("%q", name)
		}
	}
	return name
}

// AddDependency sets or overwrites the version spec for name.
func (m *Manifest) AddDependency(name, versionSpec string) {
	if m.Dependencies == nil {
		m.Dependencies = map[string]string{}
	}
	m.Dependencies[name] = versionSpec
}

// RemoveDependency deletes name from the manifest, if present.
func (m *Manifest) RemoveDependency(name string) {
	delete(m.Dependencies, name)
}

// AddTap appends tap to the manifest's tap list if not already present.
func (m *Manifest) AddTap(tap string) {
	for _, existing := range m.Taps {
		if existing == tap {
			return
		}
	}
	m.Taps = append(m.Taps, tap)
}

// RemoveTap removes tap from the manifest's tap list.
func (m *Manifest) RemoveTap(tap string) {
	out := m.Taps[:0]
	for _, existing := range m.Taps {
		if existing != tap {
			out = append(out, existing)
		}
	}
	m.Taps = out
}
