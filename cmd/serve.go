package cmd

import (
	"os"

	"diffusion_backend/core"
	"diffusion_backend/core/preflight"
	"diffusion_backend/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var skipPreflight bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if !skipPreflight {
				if err := runPreflight(cfg, false); err != nil {
					return err
				}
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			logConfig(logger, cfg)

			app, err := NewApp(cfg, logger)
			if err != nil {
				logger.Error("startup failed", zap.Error(err))
				logger.Sync()
				return err
			}
			return app.Run()
		},
	}
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "start without running startup checks")
	return cmd
}

// runPreflight prints the checklist to stderr and fails with a config
// error when any check fails.
func runPreflight(cfg *core.Config, quiet bool) error {
	res := preflight.New(cfg).WithOutput(os.Stderr).WithQuiet(quiet).Run()
	if !res.OK() {
		return core.ErrPreflightFailed(res.Failed)
	}
	return nil
}

func logConfig(logger *logging.Logger, cfg *core.Config) {
	logger.Info("configuration loaded",
		zap.String("addr", cfg.Addr()),
		zap.String("backend", cfg.Backend),
		zap.String("model_path", cfg.ModelPath),
		zap.Bool("model_download", cfg.ModelURL != ""),
		zap.String("adapter_path", cfg.AdapterPath()),
		zap.Duration("generation_timeout", cfg.GenerationTimeout),
		zap.Bool("history_enabled", cfg.HistoryEnabled),
		zap.Int("history_retention_days", cfg.HistoryRetentionDays),
		zap.Bool("auth_enabled", cfg.AuthEnabled()),
		zap.Bool("dev_mode", cfg.DevMode),
		zap.String("config_file", cfg.Source),
	)
}
