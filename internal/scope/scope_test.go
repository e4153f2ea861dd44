package scope

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velo-pm/velo/internal/manifest"
)

func TestFindProjectContextWalksUpward(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, manifest.FileName), []byte("[dependencies]\n"), 0o644))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	ctx, ok, err := FindProjectContext(nested)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, root, ctx.ProjectRoot)
	require.Equal(t, filepath.Join(root, manifest.FileName), ctx.ManifestPath)
}

func TestFindProjectContextNoManifestReturnsFalse(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	nested := filepath.Join(home, "work", "scratch")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	_, ok, err := FindProjectContext(nested)
	require.NoError(t, err)
	require.False(t, ok)
}
