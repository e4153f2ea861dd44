// Package scope implements C12: discovery of a project's manifest
// context by walking upward from the working directory, and the
// decision between a project-local and the global Path layout.
package scope

import (
	"os"
	"path/filepath"

	"github.com/velo-pm/velo/internal/layout"
	"github.com/velo-pm/velo/internal/manifest"
)

// ProjectContext describes a discovered project manifest.
type ProjectContext struct {
	ProjectRoot  string
	ManifestPath string
	LockfilePath string
}

// FindProjectContext walks upward from startDir until it finds a
// manifest.FileName or reaches $HOME (inclusive boundary: a manifest at
// $HOME itself is still found; walking stops at its parent). ok is false
// if no manifest was found before the boundary.
func FindProjectContext(startDir string) (ctx *ProjectContext, ok bool, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	home = filepath.Clean(home)

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, false, err
	}
	dir = filepath.Clean(dir)

	for {
		candidate := filepath.Join(dir, manifest.FileName)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return &ProjectContext{
				ProjectRoot:  dir,
				ManifestPath: candidate,
				LockfilePath: filepath.Join(dir, manifest.LockFileName),
			}, true, nil
		}

		if dir == home {
			return nil, false, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, false, nil
		}
		dir = parent
	}
}

// PathLayout returns the project-local Layout when cwd is inside a
// project and preferLocal is true; otherwise it returns the global
// Layout.
func PathLayout(preferLocal bool) (*layout.Layout, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	if preferLocal {
		if ctx, ok, err := FindProjectContext(cwd); err != nil {
			return nil, err
		} else if ok {
			return layout.ForProject(ctx.ProjectRoot), nil
		}
	}

	return layout.DefaultGlobal()
}
