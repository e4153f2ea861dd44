package installer

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velo-pm/velo/internal/formula"
	"github.com/velo-pm/velo/internal/layout"
	"github.com/velo-pm/velo/internal/verrors"
)

type bottleEntry struct {
	path    string
	content string
	mode    int64
}

func buildBottleArchive(t *testing.T, dir, name, version string, entries []bottleEntry) string {
	t.Helper()
	archivePath := filepath.Join(dir, name+".tar.gz")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, e := range entries {
		full := filepath.Join(name, version, e.path)
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: full,
			Mode: e.mode,
			Size: int64(len(e.content)),
		}))
		_, err := tw.Write([]byte(e.content))
		require.NoError(t, err)
	}
	return archivePath
}

func treeFormula() *formula.Formula {
	return &formula.Formula{Name: "tree", Version: "2.1.1"}
}

func TestInstallLeafBottle(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())

	archive := buildBottleArchive(t, t.TempDir(), "tree", "2.1.1", []bottleEntry{
		{path: "bin/tree", content: "#!/bin/sh\nexec @@HOMEBREW_PREFIX@@/libexec/tree \"$@\"\n", mode: 0o755},
	})

	in := New(l, nil)
	result, err := in.Install(treeFormula(), archive, Options{CreateSymlinks: true})
	require.NoError(t, err)

	require.Equal(t, "explicit", string(result.Receipt.InstalledAs))
	require.True(t, result.Receipt.SymlinksCreated)
	require.Empty(t, result.SymlinkConflicts)

	installedBin := l.PackageDir("tree", "2.1.1") + "/bin/tree"
	content, err := os.ReadFile(installedBin)
	require.NoError(t, err)
	require.Contains(t, string(content), l.P+"/libexec/tree")
	require.NotContains(t, string(content), "@@HOMEBREW_PREFIX@@")

	target, err := os.Readlink(l.SymlinkPath("tree"))
	require.NoError(t, err)
	require.Equal(t, installedBin, target)

	optTarget, err := os.Readlink(l.OptSymlink("tree"))
	require.NoError(t, err)
	require.Equal(t, l.PackageDir("tree", "2.1.1"), optTarget)
}

func TestInstallAlreadyInstalledWithoutForceFails(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())
	archive := buildBottleArchive(t, t.TempDir(), "tree", "2.1.1", []bottleEntry{
		{path: "bin/tree", content: "binary", mode: 0o755},
	})

	in := New(l, nil)
	_, err := in.Install(treeFormula(), archive, Options{CreateSymlinks: true})
	require.NoError(t, err)

	_, err = in.Install(treeFormula(), archive, Options{CreateSymlinks: true})
	require.True(t, verrors.Is(err, verrors.KindAlreadyInstalled))
}

func TestInstallDependencyThenPromote(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())
	archive := buildBottleArchive(t, t.TempDir(), "bar", "2.0.0", []bottleEntry{
		{path: "bin/bar", content: "binary", mode: 0o755},
	})

	in := New(l, nil)
	result, err := in.Install(&formula.Formula{Name: "bar", Version: "2.0.0"}, archive, Options{CreateSymlinks: false, RequestedBy: []string{"foo"}})
	require.NoError(t, err)
	require.Equal(t, "dependency", string(result.Receipt.InstalledAs))
	require.Equal(t, []string{"foo"}, result.Receipt.RequestedBy)

	_, err = os.Lstat(l.SymlinkPath("bar"))
	require.True(t, os.IsNotExist(err))

	promoted, err := in.CreateSymlinksForExistingPackage("bar", "2.0.0")
	require.NoError(t, err)
	require.Equal(t, "explicit", string(promoted.Receipt.InstalledAs))

	_, err = os.Lstat(l.SymlinkPath("bar"))
	require.NoError(t, err)
}

// TestInstallRecordsEachRequesterSeparately guards against collapsing
// multiple distinct requesters into one joined string: a shared
// transitive dependency pulled in by two roots must end up with both
// root names as separate set members in RequestedBy.
func TestInstallRecordsEachRequesterSeparately(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())
	archive := buildBottleArchive(t, t.TempDir(), "baz", "1.0.0", []bottleEntry{
		{path: "bin/baz", content: "binary", mode: 0o755},
	})

	in := New(l, nil)
	result, err := in.Install(&formula.Formula{Name: "baz", Version: "1.0.0"}, archive, Options{CreateSymlinks: false, RequestedBy: []string{"a", "b"}})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, result.Receipt.RequestedBy)
}

func TestVerifyInstallationDetectsEmptyBin(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())
	require.NoError(t, os.MkdirAll(filepath.Join(l.PackageDir("tree", "2.1.1"), "bin"), 0o755))

	in := New(l, nil)
	status, reason, err := in.VerifyInstallation(treeFormula(), true)
	require.NoError(t, err)
	require.Equal(t, StatusCorrupted, status)
	require.Contains(t, reason, "empty bin/")
}

func TestVerifyInstallationNotInstalled(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())

	in := New(l, nil)
	status, _, err := in.VerifyInstallation(treeFormula(), true)
	require.NoError(t, err)
	require.Equal(t, StatusNotInstalled, status)
}

func TestUninstallRemovesCellarSymlinksAndReceipt(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())
	archive := buildBottleArchive(t, t.TempDir(), "tree", "2.1.1", []bottleEntry{
		{path: "bin/tree", content: "binary", mode: 0o755},
	})

	in := New(l, nil)
	_, err := in.Install(treeFormula(), archive, Options{CreateSymlinks: true})
	require.NoError(t, err)

	require.NoError(t, in.Uninstall("tree"))

	_, err = os.Stat(l.PackageDir("tree", "2.1.1"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Lstat(l.SymlinkPath("tree"))
	require.True(t, os.IsNotExist(err))
	_, err = in.receipts.Load("tree", "2.1.1")
	require.Error(t, err)
}
