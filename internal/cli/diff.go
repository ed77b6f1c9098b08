package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/batch"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	Target string
}

// NewDiffCommand creates the diff command: list only the units whose
// durable state no longer matches the current specs.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "List units that are drifted or inactive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "unit id or module prefix (default: all units)")
	return cmd
}

func runDiff(opts *DiffOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	s, err := openSession(formatter, sessionOptions{})
	if err != nil {
		return err
	}
	ids, err := s.matchTargets(opts.Target)
	if err != nil {
		return err
	}

	reports := s.driver.Diff(ids)
	if formatter.Format == "json" {
		return formatter.JSON(statusViews(reports))
	}

	if len(reports) == 0 {
		fmt.Fprintf(formatter.Writer, "%s all %d unit(s) in sync\n", passMark(), len(ids))
		return nil
	}
	for _, report := range reports {
		switch report.State {
		case batch.StateDrifted:
			fmt.Fprintf(formatter.Writer, "%-40s %s checkpoint %s, spec now %s\n",
				report.UnitID, renderState(report.State), report.ActiveShort, report.CurrentShort)
		default:
			fmt.Fprintf(formatter.Writer, "%-40s %s no active checkpoint\n",
				report.UnitID, renderState(report.State))
		}
	}
	fmt.Fprintf(formatter.Writer, "\n%d of %d unit(s) out of sync\n", len(reports), len(ids))
	return nil
}
