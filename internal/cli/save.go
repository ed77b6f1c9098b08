package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/checkpoint"
	"github.com/specforge/specforge/internal/resolve"
)

// SaveOptions holds flags for the save command.
type SaveOptions struct {
	*RootOptions
	Target string
}

// saveView is the JSON shape of one unit's save outcome.
type saveView struct {
	Unit      string   `json:"unit"`
	Activated bool     `json:"activated"`
	Checks    int      `json:"checks"`
	Failures  []string `json:"failures,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// NewSaveCommand creates the save command: verify the checkpoint matching
// the current spec and, when its checks pass, mark it active.
func NewSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SaveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Test and activate checkpoints for the current specs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "unit id or module prefix (default: all units)")
	return cmd
}

func runSave(opts *SaveOptions, cmd *cobra.Command) error {
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
	views := make([]saveView, 0, len(ids))
	for _, id := range ids {
		u, _ := s.engine.Registry().Get(id)
		view := saveView{Unit: id}

		res, err := s.engine.SaveUnit(cmd.Context(), u)
		view.Checks = res.Checks
		view.Failures = res.Failures
		switch {
		case checkpoint.IsNotFound(err):
			view.Error = fmt.Sprintf("no checkpoint for the current spec; run \"specforge compile --target %s\" first", id)
		case resolve.IsTestFailure(err):
			// failures already captured; the index was left untouched
		case err != nil:
			view.Error = err.Error()
		default:
			view.Activated = true
		}
		if !view.Activated {
			failed++
		}
		views = append(views, view)
	}

	if formatter.Format == "json" {
		if err := formatter.JSON(views); err != nil {
			return err
		}
	} else {
		renderSaveText(formatter, views)
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d unit(s) not activated", failed, len(views)))
	}
	return nil
}

func renderSaveText(formatter *OutputFormatter, views []saveView) {
	activated := 0
	for _, view := range views {
		if view.Activated {
			activated++
			fmt.Fprintf(formatter.Writer, "%s %s activated (%d check(s))\n", passMark(), view.Unit, view.Checks)
			continue
		}
		fmt.Fprintf(formatter.Writer, "%s %s not activated\n", failMark(), view.Unit)
		if view.Error != "" {
			fmt.Fprintf(formatter.Writer, "    %s\n", view.Error)
		}
		for _, failure := range view.Failures {
			fmt.Fprintf(formatter.Writer, "    %s\n", failure)
		}
	}
	fmt.Fprintf(formatter.Writer, "\n%d/%d unit(s) activated\n", activated, len(views))
}
