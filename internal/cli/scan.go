package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// scanView is the JSON shape of one scanned unit.
type scanView struct {
	Unit     string `json:"unit"`
	Kind     string `json:"kind"`
	Examples int    `json:"examples"`
	State    string `json:"state"`
	Provider string `json:"provider,omitempty"`
}

// NewScanCommand creates the scan command: list every unit the manifests
// declare, with example counts and checkpoint state.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List managed units and their checkpoint state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(rootOpts, cmd)
		},
	}
	return cmd
}

func runScan(rootOpts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)
	s, err := openSession(formatter, sessionOptions{})
	if err != nil {
		return err
	}

	units := s.engine.Registry().List()
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	statuses := s.driver.Status(ids)

	views := make([]scanView, len(units))
	for i, u := range units {
		views[i] = scanView{
			Unit:     u.ID,
			Kind:     string(u.Kind),
			Examples: len(u.Examples),
			State:    string(statuses[i].State),
			Provider: u.Provider,
		}
	}

	if formatter.Format == "json" {
		return formatter.JSON(views)
	}

	if len(units) == 0 {
		fmt.Fprintln(formatter.Writer, "No units found.")
		return nil
	}
	for i, u := range units {
		examples := fmt.Sprintf("%d example(s)", len(u.Examples))
		if len(u.Examples) == 0 {
			examples = warnStyle.Render("no examples")
		}
		fmt.Fprintf(formatter.Writer, "%-40s %-8s %-14s %s\n",
			u.ID, u.Kind, examples, renderState(statuses[i].State))
	}
	fmt.Fprintf(formatter.Writer, "\n%d unit(s)\n", len(units))
	return nil
}
