package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// IncompleteSuffix marks a model download that has not been verified yet.
const IncompleteSuffix = ".incomplete"

// RemoveIncompleteDownloads returns a Func that deletes partial model
// downloads left in dir by an interrupted fetch. Failures are logged, never
// returned, so they cannot hold up the rest of the shutdown.
func RemoveIncompleteDownloads(logger *zap.Logger, dir string) Func {
	return func(ctx context.Context) error {
		removeIncomplete(ctx, logger, dir)
		return nil
	}
}

func removeIncomplete(ctx context.Context, logger *zap.Logger, dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+IncompleteSuffix))
	if err != nil {
		logger.Error("failed to list partial downloads", zap.String("dir", dir), zap.Error(err))
		return
	}
	if len(matches) == 0 {
		return
	}

	var removed, failed int
	for _, path := range matches {
		if ctx.Err() != nil {
			logger.Warn("partial download cleanup interrupted",
				zap.Int("removed", removed),
				zap.Int("remaining", len(matches)-removed-failed))
			return
		}

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(path); err != nil {
			failed++
			logger.Warn("failed to remove partial download",
				zap.String("file", filepath.Base(path)),
				zap.Error(err))
			continue
		}
		removed++
	}

	logger.Info("removed partial downloads",
		zap.String("dir", dir),
		zap.Int("removed", removed),
		zap.Int("failed", failed))
}
