// Package cmd implements the diffusion_backend command line.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"diffusion_backend/core"
	"diffusion_backend/logging"
	"diffusion_backend/shutdown"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configFile string
	dev        bool
}

// NewRootCmd builds the command tree. Running it without a subcommand
// serves.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	serve := newServeCmd(flags)

	root := &cobra.Command{
		Use:           "diffusion_backend",
		Short:         "HTTP image generation backend for Stable Diffusion",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "YAML config file (overrides "+core.ConfigFileEnvVar+")")
	root.PersistentFlags().BoolVar(&flags.dev, "dev", false, "development mode: colored debug logs (overrides DEV_MODE)")
	root.MarkPersistentFlagFilename("config", "yaml", "yml")

	root.AddCommand(
		serve,
		newVerifyCmd(flags),
		newServiceCmd(flags),
		newHashTokenCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Args[1:], os.Stderr)
}

func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	code := exitCode(err)
	if err != nil && code != core.ExitCodeSuccess && !core.IsSignalExit(code) {
		color.New(color.FgRed, color.Bold).Fprint(stderr, "Error: ")
		fmt.Fprintln(stderr, err)
	}
	return code
}

// exitCode maps an error to the process exit code. A graceful stop after a
// signal still reports the signal.
func exitCode(err error) int {
	var sig *shutdown.SignalError
	if errors.As(err, &sig) {
		return shutdown.ExitCodeFor(sig.Signal)
	}
	return core.ExitCodeFor(err)
}

// loadConfig applies the flags on top of the environment and the config
// file.
func (f *rootFlags) loadConfig() (*core.Config, error) {
	var lookup core.Lookup = core.EnvLookup
	if f.configFile != "" || f.dev {
		overrides := map[string]string{}
		if f.configFile != "" {
			overrides[core.ConfigFileEnvVar] = f.configFile
		}
		if f.dev {
			overrides["DEV_MODE"] = "true"
		}
		lookup = core.Overlay(core.MapLookup(overrides), core.EnvLookup)
	}
	return core.LoadConfigFrom(lookup)
}

func newLogger(cfg *core.Config) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Development: cfg.DevMode,
		Level:       cfg.LogLevel,
		FilePath:    cfg.LogFile,
	})
}
