package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serviceStopTimeout bounds how long Stop waits for the shutdown sequence.
const serviceStopTimeout = 60 * time.Second

// program adapts App to the service manager's Start/Stop lifecycle.
type program struct {
	flags *rootFlags
	app   *App
	done  chan error
}

// Start builds the app synchronously so configuration errors fail the
// service start, then serves in the background.
func (p *program) Start(s service.Service) error {
	cfg, err := p.flags.loadConfig()
	if err != nil {
		return err
	}
	if err := runPreflight(cfg, true); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logConfig(logger, cfg)

	app, err := NewApp(cfg, logger, withoutSignals())
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	p.app = app
	p.done = make(chan error, 1)
	go func() {
		err := app.Run()
		p.done <- err
		if err != nil {
			// Exit so the service manager records a failure and can restart.
			logger.Error("service stopped with error", zap.Error(err))
			os.Exit(exitCode(err))
		}
	}()
	return nil
}

// Stop requests shutdown and waits for it.
func (p *program) Stop(s service.Service) error {
	if p.app == nil {
		return nil
	}
	p.app.Stop()
	select {
	case err := <-p.done:
		return err
	case <-time.After(serviceStopTimeout):
		return errors.New("timeout waiting for service to stop")
	}
}

// serviceConfig describes the installed service. It runs "service run"
// from the directory install was called in, so relative paths and .env
// resolve the same way.
func serviceConfig(flags *rootFlags) (*service.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	args := []string{"service", "run"}
	if flags.configFile != "" {
		abs, err := filepath.Abs(flags.configFile)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	return &service.Config{
		Name:             "DiffusionBackend",
		DisplayName:      "Diffusion Backend",
		Description:      "HTTP image generation backend for Stable Diffusion",
		Arguments:        args,
		WorkingDirectory: wd,
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}, nil
}

func newService(flags *rootFlags) (service.Service, *program, error) {
	cfg, err := serviceConfig(flags)
	if err != nil {
		return nil, nil, err
	}
	prg := &program{flags: flags}
	s, err := service.New(prg, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, prg, nil
}

func newServiceCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install and control the system service",
		Long: `Manages diffusion_backend as a system service (Windows service, systemd
or launchd). install records the current directory and --config so the
service starts with the same settings.`,
	}

	for _, action := range service.ControlAction {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: serviceActionHelp[action],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, _, err := newService(flags)
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Service %s: ok\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the service is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := newService(flags)
			if err != nil {
				return err
			}
			status, err := s.Status()
			if err != nil {
				return fmt.Errorf("failed to get service status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Service is", statusName(status))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run under the service manager (used by the installed service)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := newService(flags)
			if err != nil {
				return err
			}
			return s.Run()
		},
	})
	return cmd
}

var serviceActionHelp = map[string]string{
	"start":     "Start the installed service",
	"stop":      "Stop the running service",
	"restart":   "Stop then start the service",
	"install":   "Install the service",
	"uninstall": "Remove the service",
}

func statusName(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "in an unknown state"
	}
}
