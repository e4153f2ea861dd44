package main

import (
	"github.com/spf13/cobra"

	"github.com/velo-pm/velo/internal/verrors"
)

var infoCmd = &cobra.Command{
	Use:   "info <formula>",
	Short: "Show a formula's description, version, and dependencies",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runInfo(args[0]); err != nil {
			handleError(err)
		}
	},
}

func init() {
	infoCmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit structured JSON")
}

type infoResult struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Homepage     string   `json:"homepage"`
	Dependencies []string `json:"dependencies"`
	Installed    bool     `json:"installed"`
}

func runInfo(name string) error {
	l, err := resolveLayout()
	if err != nil {
		return err
	}

	idx, err := loadOrBuildIndex(l)
	if err != nil {
		return err
	}

	f, err := idx.LoadFormula(name)
	if err != nil {
		return verrors.New(verrors.KindNotFound, "info", name, "not found in any indexed tap")
	}

	var deps []string
	for _, d := range f.RequiredDependencies() {
		deps = append(deps, d.Name)
	}

	result := infoResult{
		Name:         f.Name,
		Version:      f.Version,
		Description:  f.Description,
		Homepage:     f.Homepage,
		Dependencies: deps,
		Installed:    l.IsInstalled(f.Name),
	}

	if jsonFlag {
		printJSON(result)
		return nil
	}

	printInfof("%s %s\n", result.Name, result.Version)
	if result.Description != "" {
		printInfof("%s\n", result.Description)
	}
	if result.Homepage != "" {
		printInfof("%s\n", result.Homepage)
	}
	if len(result.Dependencies) > 0 {
		printInfof("Depends on: %v\n", result.Dependencies)
	}
	if result.Installed {
		printInfo("Installed")
	} else {
		printInfo("Not installed")
	}
	return nil
}
