package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velo-pm/velo/internal/installer"
	"github.com/velo-pm/velo/internal/layout"
	"github.com/velo-pm/velo/internal/vlog"
)

func TestRepairVersionRewritesPlaceholders(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())

	pkgDir := l.PackageDir("jq", "1.7")
	require.NoError(t, os.MkdirAll(filepath.Join(pkgDir, "bin"), 0o755))

	script := filepath.Join(pkgDir, "bin", "jq-wrapper")
	contents := "#!/bin/sh\nexec @@HOMEBREW_CELLAR@@/jq/1.7/bin/jq \"$@\"\n"
	require.NoError(t, os.WriteFile(script, []byte(contents), 0o755))

	inst := installer.New(l, vlog.NewNoop())
	require.NoError(t, repairVersion(l, inst, "jq", "1.7"))

	repaired, err := os.ReadFile(script)
	require.NoError(t, err)
	require.Contains(t, string(repaired), l.Cellar())
	require.NotContains(t, string(repaired), "@@HOMEBREW_CELLAR@@")
}

func TestRepairVersionSkipsAlreadyClean(t *testing.T) {
	l := layout.New(t.TempDir())
	require.NoError(t, l.EnsureDirectories())

	pkgDir := l.PackageDir("jq", "1.7")
	require.NoError(t, os.MkdirAll(filepath.Join(pkgDir, "bin"), 0o755))

	script := filepath.Join(pkgDir, "bin", "jq-wrapper")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho fine\n"), 0o755))

	inst := installer.New(l, vlog.NewNoop())
	require.NoError(t, repairVersion(l, inst, "jq", "1.7"))

	untouched, err := os.ReadFile(script)
	require.NoError(t, err)
	require.Equal(t, "#!/bin/sh\necho fine\n", string(untouched))
}
