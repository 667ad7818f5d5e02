package cmd

import (
	"fmt"

	"diffusion_backend/core"
	"diffusion_backend/sdruntime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "diffusion_backend", core.GetVersionInfo())
			fmt.Fprintln(cmd.OutOrStdout(), "runtime:", sdruntime.GetBackendInfo())
		},
	}
}
