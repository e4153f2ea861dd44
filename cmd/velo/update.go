package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/velo-pm/velo/internal/manifest"
	"github.com/velo-pm/velo/internal/tapfetch"
)

var updateCmd = &cobra.Command{
	Use:   "update [org/repo]...",
	Short: "Rebuild the formula index and report tap freshness against GitHub",
	Long: `Update rebuilds the local name -> formula index from whatever tap
trees are already present under the prefix's taps/ directory. Acquiring
or refreshing a tap's contents is out of scope for velo; for each named
tap (org/repo, e.g. homebrew/homebrew-core) this only reports the SHA
of its current upstream HEAD commit, so a stale local mirror can be
noticed. With no arguments, checks every tap declared in the project
manifest, or just rebuilds the index outside a project.`,
	Args: cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runUpdate(args); err != nil {
			handleError(err)
		}
	},
}

func runUpdate(taps []string) error {
	l, err := resolveLayout()
	if err != nil {
		return err
	}
	if err := l.EnsureDirectories(); err != nil {
		return err
	}

	if len(taps) == 0 {
		if ctx, inProject, err := currentProjectContext(); err == nil && inProject {
			if m, err := manifest.LoadOrNew(ctx.ManifestPath); err == nil {
				taps = m.Taps
			}
		}
	}

	client := tapfetch.New(nil)
	for _, tap := range taps {
		org, repo, ok := strings.Cut(tap, "/")
		if !ok {
			return fmt.Errorf("tap %q must be in org/repo form", tap)
		}
		sha, err := client.LatestCommit(globalCtx, org, repo)
		if err != nil {
			return fmt.Errorf("check freshness of %s: %w", tap, err)
		}
		printInfof("%s: upstream HEAD is %s\n", tap, sha)
	}

	idx, err := loadOrBuildIndex(l)
	if err != nil {
		return err
	}
	if err := idx.BuildFullIndex(); err != nil {
		return err
	}
	printInfof("%d formulae indexed\n", idx.Size())
	return nil
}
