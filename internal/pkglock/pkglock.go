// Package pkglock implements velo's two lock levels: a process-wide
// advisory lock anchored at P/.lock and a per-package lock at
// Cellar/<name>/.lock, so only one install engine mutates a given
// Cellar entry (or the whole prefix) at a time.
package pkglock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/velo-pm/velo/internal/verrors"
)

// Metadata is written into the lock file for diagnostics and stale-lock
// detection.
type Metadata struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held advisory lock on a single path.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive advisory lock on path, creating the file if
// needed. When blocking is false, a held lock returns a KindLockBusy
// *verrors.Error immediately instead of waiting.
func Acquire(path string, blocking bool) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("pkglock: create lock directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pkglock: open lock file: %w", err)
	}

	flags := unix.LOCK_EX
	if !blocking {
		flags |= unix.LOCK_NB
	}

	if err := unix.Flock(int(file.Fd()), flags); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, verrors.New(verrors.KindLockBusy, "lock", "", fmt.Sprintf("%s is held by another velo process", path))
		}
		return nil, fmt.Errorf("pkglock: acquire flock: %w", err)
	}

	meta := Metadata{PID: os.Getpid(), AcquiredAt: time.Now()}
	if err := writeMetadata(file, meta); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, err
	}

	return &Lock{file: file, path: path}, nil
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	removeErr := os.Remove(l.path)

	if unlockErr != nil {
		return fmt.Errorf("pkglock: release: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("pkglock: close: %w", closeErr)
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("pkglock: remove lock file: %w", removeErr)
	}
	return nil
}

func writeMetadata(file *os.File, meta Metadata) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("pkglock: truncate: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("pkglock: seek: %w", err)
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("pkglock: write metadata: %w", err)
	}
	return nil
}

// readMetadata reads the metadata of a not-currently-held lock file.
func readMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// CleanupStale removes path if its recorded holder PID is no longer
// running. Returns true if a stale lock was removed.
func CleanupStale(path string) (bool, error) {
	meta, err := readMetadata(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, nil // unreadable metadata: leave it, a real holder may be mid-write
	}
	if processRunning(meta.PID) {
		return false, nil
	}

	// Re-verify by attempting a non-blocking lock; a process that died
	// between the read and here would otherwise race us.
	l, err := Acquire(path, false)
	if err != nil {
		return false, nil
	}
	if err := l.Release(); err != nil {
		return false, err
	}
	return true, nil
}

func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(unix.Signal(0)) == nil
}
