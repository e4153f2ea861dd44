package main

import (
	"github.com/spf13/cobra"
)

var searchDescriptions bool

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search indexed taps by formula name or description",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSearch(args[0]); err != nil {
			handleError(err)
		}
	},
}

func init() {
	searchCmd.Flags().BoolVar(&searchDescriptions, "descriptions", false, "Also match against formula descriptions (slower)")
	searchCmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit structured JSON")
}

func runSearch(term string) error {
	l, err := resolveLayout()
	if err != nil {
		return err
	}

	idx, err := loadOrBuildIndex(l)
	if err != nil {
		return err
	}

	names, err := idx.Search(term, searchDescriptions)
	if err != nil {
		return err
	}

	if jsonFlag {
		printJSON(names)
		return nil
	}

	if len(names) == 0 {
		printInfof("No formulae matching %q\n", term)
		return nil
	}
	for _, name := range names {
		printInfo(name)
	}
	return nil
}
