// Package receipts implements C10: the per-install JSON receipt store.
// One document lives at Receipts/<name>-<version>.json describing why a
// package was installed and what it exposed, mirroring exactly the set
// of trees under Cellar.
package receipts

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/velo-pm/velo/internal/layout"
)

// InstalledAs classifies why a package landed in the Cellar.
type InstalledAs string

const (
	Explicit   InstalledAs = "explicit"
	Dependency InstalledAs = "dependency"
)

// Receipt is the on-disk record for one (package, version).
type Receipt struct {
	Package              string      `json:"package"`
	Version              string      `json:"version"`
	InstalledAs          InstalledAs `json:"installed_as"`
	RequestedBy          []string    `json:"requested_by"`
	SymlinksCreated      bool        `json:"symlinks_created"`
	InstalledAt          time.Time   `json:"installed_at"`
	CorruptedRelocations int         `json:"corrupted_relocations,omitempty"`
}

// Default returns the receipt synthesized for a package with no
// on-disk receipt (an older install, or one made outside velo).
func Default(name, version string) *Receipt {
	return &Receipt{
		Package:     name,
		Version:     version,
		InstalledAs: Explicit,
		InstalledAt: time.Now(),
	}
}

// Store reads and writes receipts under a Layout's Receipts() directory.
type Store struct {
	l *layout.Layout
}

// New constructs a Store anchored at l.
func New(l *layout.Layout) *Store {
	return &Store{l: l}
}

// Save writes r atomically (write-then-rename), overwriting any existing
// receipt for the same (package, version).
func (s *Store) Save(r *Receipt) error {
	path := s.l.ReceiptPath(r.Package, r.Version)
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("receipts: marshal %s: %w", r.Package, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("receipts: write %s: %w", r.Package, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("receipts: rename %s: %w", r.Package, err)
	}
	return nil
}

// Load reads the receipt for (name, version). It returns os.ErrNotExist
// (wrapped) if none is on disk; use LoadOrDefault to synthesize one.
func (s *Store) Load(name, version string) (*Receipt, error) {
	path := s.l.ReceiptPath(name, version)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("receipts: parse %s: %w", path, err)
	}
	return &r, nil
}

// LoadOrDefault behaves like Load but returns Default(name, version)
// instead of an error when no receipt file exists.
func (s *Store) LoadOrDefault(name, version string) (*Receipt, error) {
	r, err := s.Load(name, version)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(name, version), nil
		}
		return nil, err
	}
	return r, nil
}

// Update loads the receipt for (name, version) (or synthesizes a
// default), applies fn, and saves the result.
func (s *Store) Update(name, version string, fn func(*Receipt)) (*Receipt, error) {
	r, err := s.LoadOrDefault(name, version)
	if err != nil {
		return nil, err
	}
	fn(r)
	if err := s.Save(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes the receipt for (name, version), if present.
func (s *Store) Delete(name, version string) error {
	path := s.l.ReceiptPath(name, version)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("receipts: delete %s: %w", path, err)
	}
	return nil
}

// Promote rewrites the receipt for (name, version) to installed_as =
// explicit and symlinks_created = true, the mutation performed when a
// dependency-only install is promoted by a direct `install <name>`.
func (s *Store) Promote(name, version string) (*Receipt, error) {
	return s.Update(name, version, func(r *Receipt) {
		r.InstalledAs = Explicit
		r.SymlinksCreated = true
	})
}
