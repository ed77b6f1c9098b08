package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/batch"
)

// statusView is the JSON shape of one unit's durable state.
type statusView struct {
	Unit     string `json:"unit"`
	State    string `json:"state"`
	Examples int    `json:"examples"`
	Active   string `json:"active,omitempty"`
	Current  string `json:"current"`
}

// NewStatusCommand creates the status command: compare every unit's
// current spec fingerprint against its active checkpoint.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint state for every unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(rootOpts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)
	s, err := openSession(formatter, sessionOptions{})
	if err != nil {
		return err
	}
	ids, err := s.matchTargets("")
	if err != nil {
		return err
	}

	reports := s.driver.Status(ids)
	if formatter.Format == "json" {
		return formatter.JSON(statusViews(reports))
	}

	if len(reports) == 0 {
		fmt.Fprintln(formatter.Writer, "No units found.")
		return nil
	}
	for _, report := range reports {
		active := report.ActiveShort
		if active == "" {
			active = dimStyle.Render("-")
		}
		fmt.Fprintf(formatter.Writer, "%-40s %-10s active=%s current=%s\n",
			report.UnitID, renderState(report.State), active, report.CurrentShort)
	}
	return nil
}

func statusViews(reports []batch.StatusReport) []statusView {
	views := make([]statusView, len(reports))
	for i, report := range reports {
		views[i] = statusView{
			Unit:     report.UnitID,
			State:    string(report.State),
			Examples: report.Examples,
			Active:   report.ActiveShort,
			Current:  report.CurrentShort,
		}
	}
	return views
}
