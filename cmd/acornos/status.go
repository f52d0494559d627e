package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/acornos/acornbuild/internal/app"
	"github.com/acornos/acornbuild/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every artifact",
	Long: `Status prints each artifact's path, size, recorded fingerprint and build
id, and whether the next build would rebuild it. Nothing is built.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	status, err := a.Status(cmd.Context())
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), styles(), a.Config().BaseDir, status)
	return nil
}

func printStatus(w io.Writer, st ui.Styles, baseDir string, status []app.ArtifactStatus) {
	for i, s := range status {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, st.Title.Render(string(s.Kind)))
		field := func(label, value string) {
			fmt.Fprintf(w, "  %s %s\n", st.Label.Render(label), st.Value.Render(value))
		}

		field("path", relPath(baseDir, s.Path))
		if !s.Exists {
			field("size", "not built")
		} else {
			field("size", sizeOf(s.Size))
		}
		if s.Digest != "" {
			field("digest", s.Digest.Short())
			field("build", s.BuildID)
			built := humanize.Time(s.BuiltAt)
			if s.Restored {
				built += " (restored)"
			}
			field("built", built)
		}

		state := st.Success.Render("up to date")
		if s.Rebuild {
			state = st.Warning.Render("rebuild: " + string(s.Reason))
			if s.Detail != "" {
				state += st.Muted.Render(" (" + s.Detail + ")")
			}
		}
		field("state", state)
	}
}
