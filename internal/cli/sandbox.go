package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/runner"
)

// newSandboxChildCommand creates the hidden re-exec target for sandboxed
// test runs. The parent process writes the request on stdin and reads the
// result from stdout; users never invoke this directly.
func newSandboxChildCommand() *cobra.Command {
	return &cobra.Command{
		Use:    runner.SandboxChildCommand,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := config.Find(cwd)
			if err != nil {
				return err
			}
			return runner.RunChild(cmd.Context(), cfg, runner.GoRunLoader{}, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
