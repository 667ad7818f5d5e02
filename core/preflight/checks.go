package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"diffusion_backend/core"
	"diffusion_backend/modelstore"
)

// MinFreeBytes is the free space wanted next to an already present model.
const MinFreeBytes = 512 * core.BytesPerMB

// DefaultModelSizeBytes is the space reserved for a base model that still
// has to be downloaded.
const DefaultModelSizeBytes = 4 * core.BytesPerGB

// DefaultChecks returns the checks run by `verify` and before `serve`.
func DefaultChecks() []Check {
	return []Check{
		{Name: "Configuration", Run: CheckConfig},
		{Name: "Base model", Run: CheckBaseModel},
		{Name: "Adapter weights", Run: CheckAdapter},
		{Name: "Disk space", Run: CheckDiskSpace},
		{Name: "History database", Run: CheckHistoryPath},
		{Name: "Log directory", Run: CheckLogPath},
	}
}

func failed(err error) Step {
	var ce *core.ConfigError
	if errors.As(err, &ce) {
		return Step{Status: StatusFailed, Message: ce.Message, Err: errors.New(ce.Action)}
	}
	return Step{Status: StatusFailed, Message: err.Error()}
}

// CheckConfig re-runs Config.Validate.
func CheckConfig(cfg *core.Config) Step {
	if err := cfg.Validate(); err != nil {
		return failed(err)
	}
	msg := fmt.Sprintf("%s backend on %s", cfg.Backend, cfg.Addr())
	if cfg.Source != "" {
		msg += " (file " + cfg.Source + ")"
	}
	return Step{Status: StatusPassed, Message: msg}
}

// CheckBaseModel requires the base checkpoint on disk, verified when a
// checksum is configured. A missing file with a download URL is a warning.
func CheckBaseModel(cfg *core.Config) Step {
	if cfg.Backend != core.BackendLocal {
		return Step{Status: StatusSkipped, Message: "remote backend"}
	}
	info, err := os.Stat(cfg.ModelPath)
	switch {
	case err == nil && info.IsDir():
		return failed(fmt.Errorf("%s is a directory", cfg.ModelPath))
	case errors.Is(err, os.ErrNotExist) && cfg.ModelURL != "":
		return Step{Status: StatusWarning, Message: "missing, will download from " + cfg.ModelURL}
	case errors.Is(err, os.ErrNotExist):
		return failed(core.ErrModelMissing(cfg.ModelPath))
	case err != nil:
		return failed(err)
	}

	if cfg.ModelSHA256 != "" {
		ok, err := modelstore.VerifyChecksum(cfg.ModelPath, cfg.ModelSHA256)
		if err != nil {
			return failed(err)
		}
		if !ok {
			return failed(fmt.Errorf("%s does not match SD_MODEL_SHA256", cfg.ModelPath))
		}
		return Step{Status: StatusPassed, Message: fmt.Sprintf("%s (%s, checksum ok)", cfg.ModelPath, core.FormatBytes(info.Size()))}
	}
	return Step{Status: StatusPassed, Message: fmt.Sprintf("%s (%s)", cfg.ModelPath, core.FormatBytes(info.Size()))}
}

// CheckAdapter warns when the fine-tuned weights are absent. The service
// still starts; fine-tuned requests fail until the weights appear.
func CheckAdapter(cfg *core.Config) Step {
	if cfg.Backend != core.BackendLocal {
		return Step{Status: StatusSkipped, Message: "remote backend"}
	}
	path := cfg.AdapterPath()
	if _, err := os.Stat(path); err != nil {
		return Step{Status: StatusWarning, Message: "not found at " + path}
	}
	return Step{Status: StatusPassed, Message: path}
}

// CheckDiskSpace makes sure the model directory has room, including the
// model itself when it still has to be downloaded.
func CheckDiskSpace(cfg *core.Config) Step {
	if cfg.Backend != core.BackendLocal {
		return Step{Status: StatusSkipped, Message: "remote backend"}
	}
	required := MinFreeBytes
	if _, err := os.Stat(cfg.ModelPath); err != nil && cfg.ModelURL != "" {
		required += DefaultModelSizeBytes
	}
	info, err := RequireDiskSpace(filepath.Dir(cfg.ModelPath), required)
	if err != nil {
		return failed(err)
	}
	return Step{Status: StatusPassed, Message: fmt.Sprintf("%s free at %s", core.FormatBytes(info.Free), info.Path)}
}

// CheckHistoryPath makes sure the history database directory is writable.
func CheckHistoryPath(cfg *core.Config) Step {
	if !cfg.HistoryEnabled {
		return Step{Status: StatusSkipped, Message: "history disabled"}
	}
	if err := writableDir(filepath.Dir(cfg.HistoryDBPath)); err != nil {
		return failed(err)
	}
	return Step{Status: StatusPassed, Message: cfg.HistoryDBPath}
}

// CheckLogPath makes sure the log file directory is writable.
func CheckLogPath(cfg *core.Config) Step {
	if cfg.LogFile == "" {
		return Step{Status: StatusSkipped, Message: "console only"}
	}
	if err := writableDir(filepath.Dir(cfg.LogFile)); err != nil {
		return failed(err)
	}
	return Step{Status: StatusPassed, Message: cfg.LogFile}
}

func writableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
