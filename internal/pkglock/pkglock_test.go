package pkglock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/velo-pm/velo/internal/verrors"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	l, err := Acquire(path, false)
	require.NoError(t, err)
	require.FileExists(t, path)

	require.NoError(t, l.Release())
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestAcquireNonBlockingBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	l, err := Acquire(path, false)
	require.NoError(t, err)
	defer l.Release()

	_, err = Acquire(path, false)
	require.True(t, verrors.Is(err, verrors.KindLockBusy))
}

func TestCleanupStaleRemovesDeadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	l, err := Acquire(path, false)
	require.NoError(t, err)
	meta := Metadata{PID: 999999, AcquiredAt: time.Now()}
	require.NoError(t, writeMetadata(l.file, meta))
	require.NoError(t, unix.Flock(int(l.file.Fd()), unix.LOCK_UN))
	require.NoError(t, l.file.Close())
	l.file = nil // simulate the process that held it having exited without Release

	removed, err := CleanupStale(path)
	require.NoError(t, err)
	require.True(t, removed)
}
