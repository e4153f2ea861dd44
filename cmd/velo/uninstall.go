package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/velo-pm/velo/internal/installer"
	"github.com/velo-pm/velo/internal/manifest"
	"github.com/velo-pm/velo/internal/pkglock"
	"github.com/velo-pm/velo/internal/vlog"
)

var uninstallCmd = &cobra.Command{
	Use:     "uninstall <formula>...",
	Aliases: []string{"remove", "rm"},
	Short:   "Remove installed formulae",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range args {
			if err := runUninstall(name); err != nil {
				handleError(err)
			}
		}
	},
}

func init() {
	uninstallCmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit structured JSON on failure")
}

func runUninstall(name string) error {
	l, err := resolveLayout()
	if err != nil {
		return err
	}

	lock, err := pkglock.Acquire(l.LockFile(), true)
	if err != nil {
		return err
	}
	defer lock.Release()

	if !l.IsInstalled(name) {
		return fmt.Errorf("%s is not installed", name)
	}

	inst := installer.New(l, vlog.Default())
	if err := inst.Uninstall(name); err != nil {
		return err
	}
	printInfof("Uninstalled %s\n", name)

	ctx, inProject, err := currentProjectContext()
	if err != nil || !inProject {
		return nil
	}

	m, err := manifest.LoadOrNew(ctx.ManifestPath)
	if err != nil {
		return err
	}
	m.RemoveDependency(name)
	if err := m.Save(ctx.ManifestPath); err != nil {
		return err
	}

	lf, err := manifest.LoadLockfile(ctx.LockfilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	delete(lf.Dependencies, name)
	return lf.Save(ctx.LockfilePath)
}
