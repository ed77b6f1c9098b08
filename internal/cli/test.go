package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/checkpoint"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Target string
}

// testView is the JSON shape of one unit's check run.
type testView struct {
	Unit     string   `json:"unit"`
	Passed   bool     `json:"passed"`
	Checks   int      `json:"checks"`
	Failures []string `json:"failures,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// NewTestCommand creates the test command: run checks against stored
// checkpoints without generating anything.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run unit checks against stored checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "unit id or module prefix (default: all units)")
	return cmd
}

func runTest(opts *TestOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	s, err := openSession(formatter, sessionOptions{})
	if err != nil {
		return err
	}
	ids, err := s.matchTargets(opts.Target)
	if err != nil {
		return err
	}

	failed := 0
	views := make([]testView, 0, len(ids))
	for _, id := range ids {
		u, _ := s.engine.Registry().Get(id)
		view := testView{Unit: id}

		res, err := s.engine.TestUnit(cmd.Context(), u)
		switch {
		case checkpoint.IsNotFound(err):
			view.Error = fmt.Sprintf("no checkpoint; run \"specforge compile --target %s\" first", id)
		case err != nil:
			view.Error = err.Error()
		default:
			view.Passed = res.Passed
			view.Checks = res.Checks
			view.Failures = res.Failures
		}
		if !view.Passed {
			failed++
		}
		views = append(views, view)
	}

	if formatter.Format == "json" {
		if err := formatter.JSON(views); err != nil {
			return err
		}
	} else {
		renderTestText(formatter, views)
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d unit(s) failed", failed, len(views)))
	}
	return nil
}

func renderTestText(formatter *OutputFormatter, views []testView) {
	passed := 0
	for _, view := range views {
		if view.Passed {
			passed++
			fmt.Fprintf(formatter.Writer, "%s %s (%d check(s))\n", passMark(), view.Unit, view.Checks)
			continue
		}
		fmt.Fprintf(formatter.Writer, "%s %s\n", failMark(), view.Unit)
		if view.Error != "" {
			fmt.Fprintf(formatter.Writer, "    %s\n", view.Error)
		}
		for _, failure := range view.Failures {
			fmt.Fprintf(formatter.Writer, "    %s\n", failure)
		}
	}
	fmt.Fprintf(formatter.Writer, "\n%d/%d unit(s) passed\n", passed, len(views))
}
