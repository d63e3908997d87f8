// Package startup runs the one-time recovery tasks a process performs
// before it starts accepting work: discarding orphaned job workspaces
// and resetting catalog rows a crash left in an inconsistent state.
package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WorkspaceDirPrefix is the prefix every ephemeral job workspace
// directory under worker.cache_dir is created with.
const WorkspaceDirPrefix = "job-"

// DefaultCleanupAge is the default maximum age for an orphaned job
// workspace before it is considered abandoned rather than in-flight.
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedWorkspaces removes job workspace directories under
// cacheDir older than maxAge — leftovers from a worker process that
// exited (or was killed) before its deferred cleanup ran.
func CleanupOrphanedWorkspaces(logger *slog.Logger, cacheDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(cacheDir); os.IsNotExist(err) {
		logger.Debug("cache directory does not exist, skipping cleanup", "path", cacheDir)
		return 0, nil
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		logger.Error("failed to read cache directory for cleanup", "path", cacheDir, "error", err)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), WorkspaceDirPrefix) {
			continue
		}

		dirPath := filepath.Join(cacheDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat workspace directory", "path", dirPath, "error", err)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent workspace directory",
				"path", dirPath, "age", time.Since(info.ModTime()).Round(time.Second))
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned workspace directory", "path", dirPath, "error", err)
			continue
		}

		logger.Info("removed orphaned workspace directory",
			"path", dirPath, "age", time.Since(info.ModTime()).Round(time.Second))
		removed++
	}

	return removed, nil
}

// ProcessingJobRequeuer is the catalog operation the master runs at
// startup to recover jobs a prior process left mid-flight.
type ProcessingJobRequeuer interface {
	RequeueAllProcessing(ctx context.Context) (int64, error)
}

// RecoverStaleProcessingJobs resets every job left in "processing"
// status back to "queued". In-memory dispatch tracking and peer links
// do not survive a master restart, so a job still marked processing at
// startup belongs to a worker the new process has never heard from and
// will never hear from again.
func RecoverStaleProcessingJobs(ctx context.Context, logger *slog.Logger, jobs ProcessingJobRequeuer) (int64, error) {
	count, err := jobs.RequeueAllProcessing(ctx)
	if err != nil {
		logger.Error("failed to recover stale processing jobs", "error", err)
		return 0, err
	}
	if count > 0 {
		logger.Warn("recovered jobs interrupted by restart", "count", count)
	}
	return count, nil
}
