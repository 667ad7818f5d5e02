package cmd

import (
	"github.com/spf13/cobra"
)

func newVerifyCmd(flags *rootFlags) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check configuration, model weights and data paths, then exit",
		Long: `Runs the same checks as serve does before starting. Exits 0 when the
service can start and 2 when configuration or a required file is wrong.
A missing adapter is only a warning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			return runPreflight(cfg, quiet)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print nothing, only set the exit code")
	return cmd
}
