package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/acornos/acornbuild/internal/app"
	"github.com/acornos/acornbuild/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this host can build AcornOS",
	Long: `Doctor verifies the host tools the pipeline runs, the mkfs.erofs version
and the free space at the output directory.

Every missing tool is reported at once, with the package that provides it.

Examples:
  acornos doctor`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	report := a.Doctor(cmd.Context())
	printDoctorReport(cmd.OutOrStdout(), styles(), report)
	return report.Err()
}

func checkBadge(st ui.Styles, c app.DoctorCheck) string {
	switch {
	case c.Passed:
		return st.Success.Render("[OK]  ")
	case c.Severity == app.SeverityError:
		return st.Error.Render("[FAIL]")
	default:
		return st.Warning.Render("[WARN]")
	}
}

func printDoctorReport(w io.Writer, st ui.Styles, report app.DoctorReport) {
	fmt.Fprintln(w, st.Title.Render("Host preflight"))
	for _, c := range report.Checks {
		fmt.Fprintf(w, "%s %s: %s\n", checkBadge(st, c), c.Name, c.Message)
		if !c.Passed && c.Suggestion != "" {
			fmt.Fprintf(w, "       %s\n", st.Muted.Render(c.Suggestion))
		}
	}
	fmt.Fprintln(w)

	passed, total := report.PassedCount(), len(report.Checks)
	if report.HasErrors() {
		fmt.Fprintln(w, st.Error.Render(fmt.Sprintf("Preflight failed: %d of %d checks passed", passed, total)))
		return
	}
	fmt.Fprintln(w, st.Success.Render(fmt.Sprintf("All required checks passed (%d/%d)", passed, total)))
}
