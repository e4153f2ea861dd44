// Package layout implements velo's canonical on-disk locations (C1):
// the Cellar, bin, opt, cache, tmp, taps, and receipts directories
// anchored at a single prefix P, for either the global or a per-project
// scope.
//
// Layout is the one piece of process-wide state the core depends on; a
// Layout value is otherwise immutable and side-effect-free to construct,
// so tests build one over an arbitrary temp prefix instead of touching
// the user's real $HOME.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnvHome overrides the global prefix.
const EnvHome = "VELO_HOME"

// Layout holds a base prefix P and derives every subpath velo reads or
// writes under it.
type Layout struct {
	// P is the base prefix: $HOME/.velo for the global scope, or
	// <project>/.velo for a project-local scope.
	P string
}

// New constructs a Layout anchored at prefix.
func New(prefix string) *Layout {
	return &Layout{P: prefix}
}

// DefaultGlobal returns the Layout for the global (per-user) scope,
// honoring VELO_HOME if set.
func DefaultGlobal() (*Layout, error) {
	if home := os.Getenv(EnvHome); home != "" {
		return New(home), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("layout: resolve user home: %w", err)
	}
	return New(filepath.Join(home, ".velo")), nil
}

// ForProject returns the Layout for a per-project scope rooted at
// projectDir.
func ForProject(projectDir string) *Layout {
	return New(filepath.Join(projectDir, ".velo"))
}

// Cellar is the root of the versioned install tree: Cellar/<name>/<version>/…
func (l *Layout) Cellar() string { return filepath.Join(l.P, "Cellar") }

// Bin is the single flat directory of PATH-visible symlinks.
func (l *Layout) Bin() string { return filepath.Join(l.P, "bin") }

// Opt is the directory of per-package "default version" symlinks.
func (l *Layout) Opt() string { return filepath.Join(l.P, "opt") }

// Cache is the root of downloaded-blob and tap-index caches.
func (l *Layout) Cache() string { return filepath.Join(l.P, "cache") }

// DownloadCache holds content-addressed bottle blobs, named by SHA-256.
func (l *Layout) DownloadCache() string { return filepath.Join(l.Cache(), "downloads") }

// TapCache holds the persisted tap name→path index.
func (l *Layout) TapCache() string { return filepath.Join(l.Cache(), "taps") }

// Tmp holds scratch files. In-progress installs are not staged here but
// in ".incoming" siblings under the Cellar (see StagingDir).
func (l *Layout) Tmp() string { return filepath.Join(l.P, "tmp") }

// Taps is the root of locally cloned/mirrored tap trees:
// taps/<org>/<repo>/Formula/…
func (l *Layout) Taps() string { return filepath.Join(l.P, "taps") }

// Receipts is the root of installation receipt JSON documents.
func (l *Layout) Receipts() string { return filepath.Join(l.P, "receipts") }

// LockFile is the process-wide advisory lock path.
func (l *Layout) LockFile() string { return filepath.Join(l.P, ".lock") }

// EnsureDirectories creates the full directory skeleton. Idempotent.
func (l *Layout) EnsureDirectories() error {
	dirs := []string{
		l.P, l.Cellar(), l.Bin(), l.Opt(), l.Cache(), l.DownloadCache(),
		l.TapCache(), l.Tmp(), l.Taps(), l.Receipts(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("layout: create directory %s: %w", dir, err)
		}
	}
	return nil
}

// PackageDir returns the Cellar directory for a specific package version.
func (l *Layout) PackageDir(name, version string) string {
	return filepath.Join(l.Cellar(), name, version)
}

// PackageRoot returns the Cellar directory holding all versions of name.
func (l *Layout) PackageRoot(name string) string {
	return filepath.Join(l.Cellar(), name)
}

// StagingDir returns the sibling ".incoming" staging path used while a
// version is being extracted and relocated, before the installer renames
// it into place.
func (l *Layout) StagingDir(name, version string) string {
	return filepath.Join(l.Cellar(), name, version+".incoming")
}

// PackageLockFile returns the per-package advisory lock path.
func (l *Layout) PackageLockFile(name string) string {
	return filepath.Join(l.PackageRoot(name), ".lock")
}

// SymlinkPath returns the PATH-visible symlink location for an
// executable name.
func (l *Layout) SymlinkPath(exe string) string {
	return filepath.Join(l.Bin(), exe)
}

// OptSymlink returns the default-version symlink path for a package.
func (l *Layout) OptSymlink(name string) string {
	return filepath.Join(l.Opt(), name)
}

// ReceiptPath returns the receipt file for a package, or for a specific
// version when version is non-empty.
func (l *Layout) ReceiptPath(name, version string) string {
	if version == "" {
		return filepath.Join(l.Receipts(), name+".json")
	}
	return filepath.Join(l.Receipts(), fmt.Sprintf("%s-%s.json", name, version))
}

// CacheFile returns the content-addressed download cache path for a key
// (typically a sha256 hex digest).
func (l *Layout) CacheFile(key string) string {
	return filepath.Join(l.DownloadCache(), key)
}

// TemporaryFile returns a scratch path under Tmp with the given prefix
// and extension, unique per call.
func (l *Layout) TemporaryFile(prefix, ext string) (string, error) {
	if err := os.MkdirAll(l.Tmp(), 0o755); err != nil {
		return "", fmt.Errorf("layout: create tmp dir: %w", err)
	}
	f, err := os.CreateTemp(l.Tmp(), prefix+"-*"+ext)
	if err != nil {
		return "", fmt.Errorf("layout: create temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	return path, nil
}

// IsInstalled reports whether any version of name has a Cellar entry.
func (l *Layout) IsInstalled(name string) bool {
	versions, err := l.InstalledVersions(name)
	return err == nil && len(versions) > 0
}

// InstalledPackages returns every package name with at least one Cellar
// entry (the directory names directly under Cellar/, which may carry an
// "@version_slot" suffix).
func (l *Layout) InstalledPackages() ([]string, error) {
	entries, err := os.ReadDir(l.Cellar())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("layout: read cellar: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// InstalledVersions returns the sorted list of version directories
// present under Cellar/<name>.
func (l *Layout) InstalledVersions(name string) ([]string, error) {
	entries, err := os.ReadDir(l.PackageRoot(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("layout: read package root: %w", err)
	}

	var versions []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasSuffix(e.Name(), ".incoming") || e.Name() == ".lock" {
			continue
		}
		versions = append(versions, e.Name())
	}
	sort.Strings(versions)
	return versions, nil
}

// DefaultVersion returns the version the opt/<name> symlink currently
// resolves to, or "" if no opt symlink exists.
func (l *Layout) DefaultVersion(name string) (string, error) {
	target, err := os.Readlink(l.OptSymlink(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("layout: read opt symlink: %w", err)
	}
	return filepath.Base(target), nil
}

// IsInPATH reports whether Bin() is present on the current process's
// PATH.
func (l *Layout) IsInPATH() bool {
	path := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(path) {
		if filepath.Clean(entry) == filepath.Clean(l.Bin()) {
			return true
		}
	}
	return false
}
