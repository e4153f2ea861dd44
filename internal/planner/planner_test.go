package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velo-pm/velo/internal/depgraph"
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

func arm64Sonoma() formula.Host { return formula.Host{Arch: formula.ArchArm64, OSMajor: 14} }

func TestOrderDependencyBeforeDependent(t *testing.T) {
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

	g, err := depgraph.Build([]string{"foo"}, idx, l, arm64Sonoma(), nil)
	require.NoError(t, err)

	order, err := Order(g)
	require.NoError(t, err)
	require.Equal(t, []string{"bar", "foo"}, order)
}

func TestOrderOmitsAlreadyInstalled(t *testing.T) {
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
	require.NoError(t, os.MkdirAll(l.PackageDir("bar", "2.0.0"), 0o755))

	idx := tapindex.New(l, nil)
	require.NoError(t, idx.BuildFullIndex())

	g, err := depgraph.Build([]string{"foo"}, idx, l, arm64Sonoma(), nil)
	require.NoError(t, err)

	order, err := Order(g)
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, order)
}
