package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CleanupResult reports one retention pass.
type CleanupResult struct {
	GenerationsDeleted int64
	JobsDeleted        int64
	Duration           time.Duration
}

// Cleanup deletes history older than retention in one transaction and then
// compacts the file.
func (d *Database) Cleanup(ctx context.Context, retention time.Duration) (CleanupResult, error) {
	start := time.Now()
	var res CleanupResult
	if retention <= 0 {
		return res, fmt.Errorf("retention must be positive, got %s", retention)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return res, ErrClosed
	}

	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range []struct {
		table string
		n     *int64
	}{
		{"generation_history", &res.GenerationsDeleted},
		{"training_jobs", &res.JobsDeleted},
	} {
		r, err := tx.ExecContext(ctx, "DELETE FROM "+t.table+" WHERE created_at < ?", cutoff)
		if err != nil {
			return res, fmt.Errorf("failed to delete from %s: %w", t.table, err)
		}
		if *t.n, err = r.RowsAffected(); err != nil {
			return res, fmt.Errorf("failed to count deleted rows in %s: %w", t.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	if res.GenerationsDeleted+res.JobsDeleted > 0 {
		if _, err := d.conn.ExecContext(ctx, "VACUUM"); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("cleanup succeeded but VACUUM failed: %w", err)
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}

// StartCleanupScheduler runs Cleanup now and then every interval until ctx
// ends.
func (d *Database) StartCleanupScheduler(ctx context.Context, retention, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pass := func() {
		res, err := d.Cleanup(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("history cleanup failed", zap.Error(err))
			}
			return
		}
		logger.Info("history cleanup complete",
			zap.Int64("generations_deleted", res.GenerationsDeleted),
			zap.Int64("jobs_deleted", res.JobsDeleted),
			zap.Duration("duration", res.Duration))
	}
	go func() {
		pass()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pass()
			}
		}
	}()
}
