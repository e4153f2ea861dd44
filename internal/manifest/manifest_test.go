package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	m := New()
	m.AddDependency("tree", "2.1.1")
	m.AddDependency("curl", "*")
	m.AddTap("homebrew/core")

	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "2.1.1", loaded.Dependencies["tree"])
	require.Equal(t, "*", loaded.Dependencies["curl"])
	require.Equal(t, []string{"homebrew/core"}, loaded.Taps)
}

func TestRemoveDependencyAndTap(t *testing.T) {
	m := New()
	m.AddDependency("tree", "2.1.1")
	m.AddTap("homebrew/core")

	m.RemoveDependency("tree")
	m.RemoveTap("homebrew/core")

	require.Empty(t, m.Dependencies)
	require.Empty(t, m.Taps)
}

func TestLoadOrNewMissingFileReturnsEmpty(t *testing.T) {
	m, err := LoadOrNew(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Empty(t, m.Dependencies)
}

func TestLockfileVerifyInstallationsDetectsDriftAndExtras(t *testing.T) {
	lf := NewLockfile()
	lf.Dependencies["tree"] = LockedDependency{Version: "2.1.1"}
	lf.Dependencies["bar"] = LockedDependency{Version: "2.0.0"}

	mismatches := VerifyInstallations(lf, map[string]string{
		"tree": "2.1.0", // drift
		"baz":  "1.0.0", // extraneous
		// bar is missing entirely
	})

	require.ElementsMatch(t, []string{
		"version drift: tree locked at 2.1.1, installed 2.1.0",
		"missing package: bar 2.0.0",
		"extraneous install: baz 1.0.0",
	}, mismatches)
}

func TestLockfileSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFileName)
	lf := NewLockfile()
	lf.Dependencies["tree"] = LockedDependency{Version: "2.1.1", Tap: "homebrew/core", SHA256: "abc"}

	require.NoError(t, lf.Save(path))

	loaded, err := LoadLockfile(path)
	require.NoError(t, err)
	require.Equal(t, "homebrew/core", loaded.Dependencies["tree"].Tap)
}
