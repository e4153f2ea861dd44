package main

import (
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed formulae and their versions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runList(); err != nil {
			handleError(err)
		}
	},
}

func init() {
	listCmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit structured JSON")
}

type listEntry struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
	Default  string   `json:"default"`
}

func runList() error {
	l, err := resolveLayout()
	if err != nil {
		return err
	}

	names, err := l.InstalledPackages()
	if err != nil {
		return err
	}

	var entries []listEntry
	for _, name := range names {
		versions, err := l.InstalledVersions(name)
		if err != nil {
			return err
		}
		def, _ := l.DefaultVersion(name)
		entries = append(entries, listEntry{Name: name, Versions: versions, Default: def})
	}

	if jsonFlag {
		printJSON(entries)
		return nil
	}

	if len(entries) == 0 {
		printInfo("No formulae installed.")
		return nil
	}
	for _, e := range entries {
		if e.Default != "" {
			printInfof("%s %s (versions: %v)\n", e.Name, e.Default, e.Versions)
		} else {
			printInfof("%s (versions: %v)\n", e.Name, e.Versions)
		}
	}
	return nil
}
