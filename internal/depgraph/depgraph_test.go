package depgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velo-pm/velo/internal/formula"
	"github.com/velo-pm/velo/internal/layout"
	"github.com/velo-pm/velo/internal/tapindex"
)

func writeFormula(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name+".rb")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func setupIndex(t *testing.T) (*layout.Layout, *tapindex.Index) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())
	root := filepath.Join(l.Taps(), "homebrew", "core", "Formula")

	writeFormula(t, root, "foo", `
class Foo < Formula
  url "https://example.com/foo-1.0.0.tar.gz"
  depends_on "bar"

  bottle do
    sha256 arm64_sonoma: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
  end
end
`)
	writeFormula(t, root, "bar", `
class Bar < Formula
  url "https://example.com/bar-2.0.0.tar.gz"

  bottle do
    sha256 arm64_sonoma: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
  end
end
`)

	idx := tapindex.New(l, nil)
	require.NoError(t, idx.BuildFullIndex())
	return l, idx
}

func arm64Sonoma() formula.Host { return formula.Host{Arch: formula.ArchArm64, OSMajor: 14} }

func TestBuildTransitiveClosure(t *testing.T) {
	l, idx := setupIndex(t)

	g, err := Build([]string{"foo"}, idx, l, arm64Sonoma(), nil)
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"foo", "bar"}, g.AllPackages())
	require.Contains(t, g.Node("bar").RequiredBy, "foo")
}

func TestNewPackagesExcludesInstalled(t *testing.T) {
	l, idx := setupIndex(t)
	require.NoError(t, os.MkdirAll(l.PackageDir("bar", "2.0.0"), 0o755))

	g, err := Build([]string{"foo"}, idx, l, arm64Sonoma(), nil)
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"foo"}, g.NewPackages())
	require.True(t, g.IsEquivalentInstalled("bar"))
}

func TestInstallablePackages(t *testing.T) {
	l, idx := setupIndex(t)

	g, err := Build([]string{"foo"}, idx, l, formula.Host{Arch: formula.ArchArm64, OSMajor: 10}, nil)
	require.NoError(t, err)

	require.Empty(t, g.InstallablePackages())
	require.ElementsMatch(t, []string{"foo", "bar"}, g.UninstallablePackages())
}

func TestCycleIsBrokenNotFatal(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())
	root := filepath.Join(l.Taps(), "homebrew", "core", "Formula")

	writeFormula(t, root, "a", `
class A < Formula
  url "https://example.com/a-1.0.0.tar.gz"
  depends_on "b"
end
`)
	writeFormula(t, root, "b", `
class B < Formula
  url "https://example.com/b-1.0.0.tar.gz"
  depends_on "a"
end
`)

	idx := tapindex.New(l, nil)
	require.NoError(t, idx.BuildFullIndex())

	g, err := Build([]string{"a"}, idx, l, arm64Sonoma(), nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, g.AllPackages())
}
