package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const treeFormula = `
class Tree < Formula
  desc "Display directories as trees"
  homepage "http://mama.indstate.edu/users/ice/tree/"
  url "https://files.osuosl.org/mirrors/blfs/conglomeration/tree/tree-2.1.1.tgz"
  sha256 "6957c20e82561db6ddadf1676e7c4c988e1fd1993195e8939783f4fc6f843290"
  license "GPL-2.0-only"

  bottle do
    sha256 cellar: :any_skip_relocation, arm64_sonoma:  "abc123abc123abc123abc123abc123abc123abc123abc123abc123abc123abcd"
    sha256 arm64_ventura: "def456def456def456def456def456def456def456def456def456def456defa"
    sha256 x86_64_linux:  "111111111111111111111111111111111111111111111111111111111111aa"
  end

  def install
    bin.install "tree"
  end
end
`

func TestParseBasicFields(t *testing.T) {
	f, err := Parse("tree", treeFormula)
	require.NoError(t, err)

	assert.Equal(t, "Display directories as trees", f.Description)
	assert.Equal(t, "http://mama.indstate.edu/users/ice/tree/", f.Homepage)
	assert.Equal(t, "https://files.osuosl.org/mirrors/blfs/conglomeration/tree/tree-2.1.1.tgz", f.SourceURL)
	assert.Equal(t, "6957c20e82561db6ddadf1676e7c4c988e1fd1993195e8939783f4fc6f843290", f.SourceSHA256)
	assert.Equal(t, "2.1.1", f.Version)
}

func TestParseBottles(t *testing.T) {
	f, err := Parse("tree", treeFormula)
	require.NoError(t, err)
	require.Len(t, f.Bottles, 2) // x86_64_linux is not a known platform and is skipped

	byPlatform := map[Platform]string{}
	for _, b := range f.Bottles {
		byPlatform[b.Platform] = b.SHA256
	}
	assert.Equal(t, "abc123abc123abc123abc123abc123abc123abc123abc123abc123abc123abcd", byPlatform[PlatformArm64Sonoma])
	assert.Contains(t, byPlatform, PlatformArm64Ventura)
}

const explicitVersionFormula = `
class Foo < Formula
  desc "Foo"
  url "https://example.com/foo.tar.gz"
  version "3.2.1"
  sha256 "00000000000000000000000000000000000000000000000000000000000001"
  revision 2

  depends_on "bar"
  depends_on "baz" => :build
  depends_on "zlib" => ">= 1.2"
  depends_on :linux
end
`

func TestParseExplicitVersionAndRevision(t *testing.T) {
	f, err := Parse("foo", explicitVersionFormula)
	require.NoError(t, err)
	assert.Equal(t, "3.2.1_2", f.Version)
}

func TestParseDependencies(t *testing.T) {
	f, err := Parse("foo", explicitVersionFormula)
	require.NoError(t, err)

	var names []string
	for _, d := range f.Dependencies {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "bar")
	assert.Contains(t, names, "baz")
	assert.Contains(t, names, "zlib")

	required := f.RequiredDependencies()
	var requiredNames []string
	for _, d := range required {
		requiredNames = append(requiredNames, d.Name)
	}
	assert.Contains(t, requiredNames, "bar")
	assert.NotContains(t, requiredNames, "baz") // build-only, not required
}

func TestParseIgnoresGuardedBlocks(t *testing.T) {
	src := `
class Foo < Formula
  url "https://example.com/foo-1.0.0.tar.gz"

  on_linux do
    depends_on "glibc"
  end

  depends_on "real-dep"
end
`
	f, err := Parse("foo", src)
	require.NoError(t, err)
	require.Len(t, f.Dependencies, 1)
	assert.Equal(t, "real-dep", f.Dependencies[0].Name)
}

func TestParseVersionFromURLLadder(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com/foo-1.2.3.tar.gz", "1.2.3"},
		{"https://example.com/foo-1.2.tar.gz", "1.2"},
		{"https://example.com/foo_2023-01-15.tar.gz", "2023-01-15"},
		{"https://example.com/foo-20230115.tar.gz", "20230115"},
	}
	for _, c := range cases {
		src := "class Foo < Formula\n  url \"" + c.url + "\"\nend\n"
		f, err := Parse("foo", src)
		require.NoError(t, err, c.url)
		assert.Equal(t, c.want, f.Version, c.url)
	}
}

func TestParseMissingVersionErrors(t *testing.T) {
	_, err := Parse("foo", "class Foo < Formula\n  desc \"no url or version\"\nend\n")
	require.Error(t, err)
}

func TestParsePostInstallCapturedNotExecuted(t *testing.T) {
	src := `
class Foo < Formula
  url "https://example.com/foo-1.0.0.tar.gz"

  def post_install
    system "echo", "hello"
  end
end
`
	f, err := Parse("foo", src)
	require.NoError(t, err)
	assert.True(t, f.HasPostInstall)
	assert.Contains(t, f.PostInstallScript, "echo")
}

func TestParseDefaultsSHA256Placeholder(t *testing.T) {
	src := `
class Foo < Formula
  url "https://github.com/foo/foo.git"
  tag: "v1.0.0"
end
`
	f, err := Parse("foo", src)
	require.NoError(t, err)
	assert.Equal(t, ZeroSHA256, f.SourceSHA256)
}
