package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove interrupted work paths",
	Long: `Clean removes *.work and *.old paths an interrupted build left in the
output directory. Promoted artifacts and their fingerprints are kept.

With --all the whole output directory is removed.

Examples:
  acornos clean        # remove leftovers only
  acornos clean --all  # remove every artifact`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

var cleanAll bool

func init() {
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Remove the whole output directory")

	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	removed, err := a.Clean(cmd.Context(), cleanAll)
	out := cmd.OutOrStdout()
	st := styles()
	for _, p := range removed {
		fmt.Fprintf(out, "%s %s\n", st.Muted.Render("removed"), relPath(a.Config().BaseDir, p))
	}
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Fprintln(out, "Nothing to clean.")
	}
	return nil
}
