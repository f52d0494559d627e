package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/acornos/acornbuild/internal/app"
	"github.com/acornos/acornbuild/internal/domain/artifact"
	"github.com/acornos/acornbuild/internal/ui"
)

var buildCmd = &cobra.Command{
	Use:   "build [all|rootfs|initramfs|iso]",
	Short: "Build AcornOS artifacts",
	Long: `Build runs the pipeline for the given target, or for everything.

Every artifact is fingerprinted over its declared inputs. An artifact whose
inputs have not changed is skipped, one already in the artifact store is
restored, and anything else is rebuilt and promoted atomically.

Examples:
  acornos build                 # rootfs, initramfs and iso
  acornos build iso             # only the ISO
  acornos build rootfs --force  # rebuild regardless of fingerprints`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"all", "rootfs", "initramfs", "iso"},
	RunE:      runBuild,
}

var (
	buildForce         bool
	buildSkipPreflight bool
)

func init() {
	buildCmd.Flags().BoolVarP(&buildForce, "force", "f", false, "Rebuild even when artifacts are up to date")
	buildCmd.Flags().BoolVar(&buildSkipPreflight, "skip-preflight", false, "Do not check host tools and disk space first")

	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	target := "all"
	if len(args) > 0 {
		target = args[0]
	}
	kinds, err := app.ParseTarget(target)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	st := styles()
	ctx := cmd.Context()

	if !buildSkipPreflight {
		report := a.Doctor(ctx)
		if err := report.Err(); err != nil {
			printDoctorReport(out, st, report)
			return err
		}
	}

	outcomes, err := a.Build(ctx, kinds, app.BuildOptions{Force: buildForce})
	printOutcomes(out, st, a.Config().BaseDir, outcomes)
	return err
}

func outcomeBadge(st ui.Styles, state artifact.State) string {
	switch state {
	case artifact.StatePromoted:
		return st.Success.Render("[BUILT]   ")
	case artifact.StateRestored:
		return st.Info.Render("[RESTORED]")
	case artifact.StateSkipped:
		return st.Muted.Render("[SKIPPED] ")
	default:
		return st.Error.Render("[FAILED]  ")
	}
}

func printOutcomes(w io.Writer, st ui.Styles, baseDir string, outcomes []app.Outcome) {
	for _, o := range outcomes {
		line := fmt.Sprintf("%s %-9s %s", outcomeBadge(st, o.State), o.Kind, relPath(baseDir, o.Artifact))
		if o.State != artifact.StateFailed {
			line += st.Muted.Render(fmt.Sprintf("  (%s, %s)", o.Reason, o.Duration.Round(time.Millisecond)))
		}
		fmt.Fprintln(w, line)
	}
	if n := len(outcomes); n > 0 && outcomes[n-1].Kind == app.KindISO && outcomes[n-1].State != artifact.StateFailed {
		fmt.Fprintln(w, st.Title.Render("ISO ready: "+relPath(baseDir, outcomes[n-1].Artifact)))
	}
}

// relPath returns p relative to the project directory when it lies inside it.
func relPath(baseDir, p string) string {
	rel, err := filepath.Rel(baseDir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return rel
}

func sizeOf(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}
