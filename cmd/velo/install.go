package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/velo-pm/velo/internal/depgraph"
	"github.com/velo-pm/velo/internal/formula"
	"github.com/velo-pm/velo/internal/installer"
	"github.com/velo-pm/velo/internal/layout"
	"github.com/velo-pm/velo/internal/manifest"
	"github.com/velo-pm/velo/internal/pkglock"
	"github.com/velo-pm/velo/internal/planner"
	"github.com/velo-pm/velo/internal/registryclient"
	"github.com/velo-pm/velo/internal/scope"
	"github.com/velo-pm/velo/internal/tapindex"
	"github.com/velo-pm/velo/internal/verrors"
	"github.com/velo-pm/velo/internal/vlog"
)

var (
	installForce  bool
	installFrozen bool
)

var installCmd = &cobra.Command{
	Use:   "install <formula>...",
	Short: "Install one or more formulae and their dependencies",
	Long: `Install resolves the transitive runtime dependencies of each named
formula, downloads the bottle best matching this machine, and links its
executables into bin/.

Examples:
  velo install jq
  velo install ripgrep bat
  velo install --frozen`,
	Args: cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if installFrozen {
			if len(args) != 0 {
				printError(fmt.Errorf("--frozen does not take formula arguments; it reinstalls the lockfile as-is"))
				exitWithCode(ExitUsage)
			}
			if err := runFrozenInstall(); err != nil {
				handleError(err)
			}
			return
		}

		if len(args) == 0 {
			printError(fmt.Errorf("requires at least 1 formula name, or --frozen"))
			exitWithCode(ExitUsage)
		}

		if err := runInstall(args); err != nil {
			handleError(err)
		}
	},
}

func init() {
	installCmd.Flags().BoolVar(&installForce, "force", false, "Reinstall over an existing version")
	installCmd.Flags().BoolVar(&installFrozen, "frozen", false, "Reinstall exactly the project's velo.lock.json, failing on any drift")
	installCmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit structured JSON on failure")
}

func runInstall(names []string) error {
	l, err := resolveLayout()
	if err != nil {
		return err
	}
	if err := l.EnsureDirectories(); err != nil {
		return err
	}

	lock, err := pkglock.Acquire(l.LockFile(), true)
	if err != nil {
		return err
	}
	defer lock.Release()

	idx, err := loadOrBuildIndex(l)
	if err != nil {
		return err
	}

	host := detectHost()

	g, err := depgraph.Build(names, idx, l, host, vlog.Default())
	if err != nil {
		return fmt.Errorf("resolve dependencies: %w", err)
	}

	if uninstallable := g.UninstallablePackages(); len(uninstallable) > 0 {
		return verrors.New(verrors.KindValidation, "install", strings.Join(uninstallable, ", "),
			"no bottle compatible with this machine")
	}

	order, err := planner.Order(g)
	if err != nil {
		return err
	}

	roots := map[string]bool{}
	for _, n := range names {
		roots[n] = true
	}

	if err := downloadAll(l, g, order); err != nil {
		return err
	}

	inst := installer.New(l, vlog.Default())
	installed := map[string]*formula.Formula{}

	for _, name := range order {
		node := g.Node(name)
		b, ok := node.Formula.PreferredBottle(host)
		if !ok {
			continue
		}
		archivePath := l.CacheFile(b.SHA256)

		opts := installer.Options{
			Force:          installForce,
			CreateSymlinks: roots[name],
			RequestedBy:    node.RequiredBy,
		}
		res, err := inst.Install(node.Formula, archivePath, opts)
		if err != nil {
			if verrors.Is(err, verrors.KindAlreadyInstalled) {
				printInfof("%s %s is already installed\n", node.Formula.Name, node.Formula.Version)
				continue
			}
			return fmt.Errorf("install %s: %w", name, err)
		}
		if len(res.SymlinkConflicts) > 0 {
			printInfof("warning: %s: left %s unlinked (file already exists in bin/)\n", name, strings.Join(res.SymlinkConflicts, ", "))
		}
		installed[name] = node.Formula
		printInfof("Installed %s %s\n", node.Formula.Name, node.Formula.Version)
	}

	// A requested root that was already installed only as a dependency
	// (no bin/ symlinks) is promoted to an explicit install instead of
	// being silently skipped.
	for _, name := range names {
		if _, justInstalled := installed[name]; justInstalled {
			continue
		}
		if !g.IsEquivalentInstalled(name) {
			continue
		}
		versions, err := l.InstalledVersions(name)
		if err != nil || len(versions) == 0 {
			continue
		}
		latest := versions[len(versions)-1]
		if _, err := inst.CreateSymlinksForExistingPackage(name, latest); err != nil {
			vlog.Default().Warn("failed to promote existing install", "package", name, "err", err)
			continue
		}
		printInfof("%s %s was already installed as a dependency; linked its executables\n", name, latest)
	}

	ctx, inProject, err := currentProjectContext()
	if err != nil {
		return err
	}
	if inProject {
		return recordProjectInstall(ctx, l, g, order, names)
	}
	return nil
}

// downloadAll fetches every bottle the order names, in bounded parallel.
func downloadAll(l *layout.Layout, g *depgraph.Graph, order []string) error {
	client := registryclient.New(vlog.Default())

	var items []registryclient.Item
	for _, name := range order {
		node := g.Node(name)
		b, ok := node.Formula.PreferredBottle(detectHost())
		if !ok {
			continue
		}
		dest := l.CacheFile(b.SHA256)
		if _, err := os.Stat(dest); err == nil {
			// Content-addressed: an existing blob with this digest is
			// already verified and needs no re-download.
			continue
		}
		items = append(items, registryclient.Item{
			Name:           name,
			URL:            formula.BottleURL("", "", node.Formula, b),
			DestPath:       dest,
			ExpectedSHA256: b.SHA256,
		})
	}
	if len(items) == 0 {
		return nil
	}

	results := client.DownloadAll(globalCtx, items, nil)
	for _, name := range order {
		if res, ok := results[name]; ok && res.Err != nil {
			return fmt.Errorf("download %s: %w", name, res.Err)
		}
	}
	return nil
}

// recordProjectInstall pins every package resolved this run into the
// project's manifest (roots only) and lockfile (the full closure).
func recordProjectInstall(ctx *scope.ProjectContext, l *layout.Layout, g *depgraph.Graph, order []string, roots []string) error {
	m, err := manifest.LoadOrNew(ctx.ManifestPath)
	if err != nil {
		return err
	}
	lf, err := manifest.LoadLockfile(ctx.LockfilePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		lf = manifest.NewLockfile()
	}

	for _, name := range roots {
		if node := g.Node(name); node != nil {
			m.AddDependency(name, node.Formula.Version)
		}
	}
	if err := m.Save(ctx.ManifestPath); err != nil {
		return err
	}

	for _, name := range order {
		node := g.Node(name)
		b, ok := node.Formula.PreferredBottle(detectHost())
		if !ok {
			continue
		}
		deps := map[string]string{}
		for _, dep := range node.Formula.RequiredDependencies() {
			if depNode := g.Node(dep.Name); depNode != nil {
				deps[dep.Name] = depNode.Formula.Version
			}
		}
		lf.Dependencies[name] = manifest.LockedDependency{
			Version:      node.Formula.Version,
			Tap:          formulaTap(l, name),
			URL:          formula.BottleURL("", "", node.Formula, b),
			SHA256:       b.SHA256,
			Dependencies: deps,
		}
	}
	return lf.Save(ctx.LockfilePath)
}

func formulaTap(l *layout.Layout, name string) string {
	idx := tapindex.New(l, vlog.Default())
	if ok, err := idx.Load(); err != nil || !ok {
		return ""
	}
	path, ok := idx.Find(name)
	if !ok {
		return ""
	}
	return tapForFormula(l, path)
}

// runFrozenInstall reinstalls exactly the set of packages pinned in the
// project's lockfile, failing closed if the manifest and lockfile have
// drifted apart.
func runFrozenInstall() error {
	ctx, inProject, err := currentProjectContext()
	if err != nil {
		return err
	}
	if !inProject {
		return verrors.New(verrors.KindNotInProjectContext, "install", "", "--frozen requires a project manifest")
	}

	l := scopeProjectLayout(ctx)
	if err := l.EnsureDirectories(); err != nil {
		return err
	}

	lock, err := pkglock.Acquire(l.LockFile(), true)
	if err != nil {
		return err
	}
	defer lock.Release()

	m, err := manifest.Load(ctx.ManifestPath)
	if err != nil {
		return err
	}
	lf, err := manifest.LoadLockfile(ctx.LockfilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return verrors.New(verrors.KindLockfileDrift, "install", "", "no velo.lock.json found; run install without --frozen first")
		}
		return err
	}

	for name, spec := range m.Dependencies {
		locked, ok := lf.Dependencies[name]
		if !ok {
			return verrors.New(verrors.KindLockfileDrift, "install", name, "declared in velo.toml but missing from velo.lock.json")
		}
		matches, err := formula.MatchesVersionSpec(locked.Version, spec)
		if err != nil {
			return err
		}
		if !matches {
			return verrors.New(verrors.KindLockfileDrift, "install", name,
				fmt.Sprintf("locked version %s no longer satisfies %q", locked.Version, spec))
		}
	}

	inst := installer.New(l, vlog.Default())
	client := registryclient.New(vlog.Default())

	names := make([]string, 0, len(lf.Dependencies))
	for name := range lf.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		locked := lf.Dependencies[name]
		if l.IsInstalled(name) {
			continue
		}

		dest := l.CacheFile(locked.SHA256)
		results := client.DownloadAll(globalCtx, []registryclient.Item{
			{Name: name, URL: locked.URL, DestPath: dest, ExpectedSHA256: locked.SHA256},
		}, nil)
		if res := results[name]; res.Err != nil {
			return fmt.Errorf("download %s: %w", name, res.Err)
		}

		_, isRoot := m.Dependencies[name]
		var requestedBy []string
		if !isRoot {
			for other, dep := range lf.Dependencies {
				if _, ok := dep.Dependencies[name]; ok {
					requestedBy = append(requestedBy, other)
				}
			}
			sort.Strings(requestedBy)
		}
		f := &formula.Formula{Name: name, Version: locked.Version}
		if _, err := inst.Install(f, dest, installer.Options{CreateSymlinks: isRoot, RequestedBy: requestedBy}); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
		printInfof("Installed %s %s (frozen)\n", name, locked.Version)
	}
	return nil
}

func scopeProjectLayout(ctx *scope.ProjectContext) *layout.Layout {
	return layout.ForProject(ctx.ProjectRoot)
}
