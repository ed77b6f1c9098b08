package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/batch"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Target               string
	Force                bool
	Workers              int
	AllowMissingExamples bool
}

// compileReportView is the JSON shape of one unit's compile outcome.
type compileReportView struct {
	Unit       string   `json:"unit"`
	Passed     bool     `json:"passed"`
	Checks     int      `json:"checks"`
	Failures   []string `json:"failures,omitempty"`
	Error      string   `json:"error,omitempty"`
	SpecSHA    string   `json:"spec_sha,omitempty"`
	ChkSHA     string   `json:"chk_sha,omitempty"`
}

// NewCompileCommand creates the compile command: generate, activate, and
// verify checkpoints for the targeted units.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Generate and verify checkpoints for units",
		Long: `Generate implementations for the targeted units, store them as
checkpoints, activate them in the index, and run their checks. Units
already in sync are served from their existing checkpoints.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "unit id or module prefix (default: all units)")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "regenerate even when a checkpoint is in sync")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "parallel workers (default: GOMAXPROCS-1)")
	cmd.Flags().BoolVar(&opts.AllowMissingExamples, "allow-missing-examples", false,
		"generate units that declare no examples")

	return cmd
}

func runCompile(opts *CompileOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	s, err := openSession(formatter, sessionOptions{
		needsGenerator:       true,
		allowMissingExamples: opts.AllowMissingExamples,
	})
	if err != nil {
		return err
	}
	ids, err := s.matchTargets(opts.Target)
	if err != nil {
		return err
	}

	reports := s.driver.CompileAll(cmd.Context(), ids, batch.CompileOptions{
		Force:   opts.Force,
		Workers: opts.Workers,
	})

	failed := 0
	views := make([]compileReportView, len(reports))
	for i, report := range reports {
		views[i] = compileView(report)
		if report.Failed() {
			failed++
		}
	}

	if formatter.Format == "json" {
		if err := formatter.JSON(views); err != nil {
			return err
		}
	} else {
		renderCompileText(formatter, reports)
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d unit(s) failed", failed, len(reports)))
	}
	return nil
}

func compileView(report batch.UnitReport) compileReportView {
	view := compileReportView{
		Unit:     report.UnitID,
		Passed:   !report.Failed(),
		Checks:   report.Result.Checks,
		Failures: report.Result.Failures,
		SpecSHA:  report.SpecShort,
		ChkSHA:   report.CheckpointShort,
	}
	if report.Err != nil {
		view.Error = report.Err.Error()
	}
	return view
}

func renderCompileText(formatter *OutputFormatter, reports []batch.UnitReport) {
	passed := 0
	for _, report := range reports {
		if report.Failed() {
			fmt.Fprintf(formatter.Writer, "%s %s\n", failMark(), report.UnitID)
			if report.Err != nil {
				fmt.Fprintf(formatter.Writer, "    %v\n", report.Err)
			}
			for _, failure := range report.Result.Failures {
				fmt.Fprintf(formatter.Writer, "    %s\n", failure)
			}
			continue
		}
		passed++
		fmt.Fprintf(formatter.Writer, "%s %s (%d check(s), spec %s)\n",
			passMark(), report.UnitID, report.Result.Checks, report.SpecShort)
	}
	fmt.Fprintf(formatter.Writer, "\n%d/%d unit(s) passed\n", passed, len(reports))
}
