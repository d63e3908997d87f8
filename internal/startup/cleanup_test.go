package startup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCleanupOrphanedWorkspaces(t *testing.T) {
	t.Run("removes old job directories", func(t *testing.T) {
		logger := newTestLogger()
		cacheDir := t.TempDir()

		oldDir := filepath.Join(cacheDir, "job-01HZ1234567890ABCDEF-")
		require.NoError(t, os.Mkdir(oldDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(oldDir, "dummy.txt"), []byte("test"), 0644))

		oldTime := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(oldDir, oldTime, oldTime))

		count, err := CleanupOrphanedWorkspaces(logger, cacheDir, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 1, count)
		_, err = os.Stat(oldDir)
		assert.True(t, os.IsNotExist(err), "old directory should be removed")
	})

	t.Run("preserves recent job directories", func(t *testing.T) {
		logger := newTestLogger()
		cacheDir := t.TempDir()

		recentDir := filepath.Join(cacheDir, "job-01HZ0987654321FEDCBA-")
		require.NoError(t, os.Mkdir(recentDir, 0755))

		recentTime := time.Now().Add(-30 * time.Minute)
		require.NoError(t, os.Chtimes(recentDir, recentTime, recentTime))

		count, err := CleanupOrphanedWorkspaces(logger, cacheDir, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(recentDir)
		assert.NoError(t, err, "recent directory should be preserved")
	})

	t.Run("ignores non-job directories", func(t *testing.T) {
		logger := newTestLogger()
		cacheDir := t.TempDir()

		otherDir := filepath.Join(cacheDir, "some-other-dir")
		require.NoError(t, os.Mkdir(otherDir, 0755))

		oldTime := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(otherDir, oldTime, oldTime))

		count, err := CleanupOrphanedWorkspaces(logger, cacheDir, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(otherDir)
		assert.NoError(t, err, "non-job directory should be preserved")
	})

	t.Run("handles non-existent directory gracefully", func(t *testing.T) {
		logger := newTestLogger()

		count, err := CleanupOrphanedWorkspaces(logger, "/nonexistent/path/12345", 1*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("cleans up multiple old directories", func(t *testing.T) {
		logger := newTestLogger()
		cacheDir := t.TempDir()

		oldDirs := []string{
			"job-01HZ1111111111111111-",
			"job-01HZ2222222222222222-",
			"job-01HZ3333333333333333-",
		}

		oldTime := time.Now().Add(-2 * time.Hour)
		for _, dir := range oldDirs {
			dirPath := filepath.Join(cacheDir, dir)
			require.NoError(t, os.Mkdir(dirPath, 0755))
			require.NoError(t, os.Chtimes(dirPath, oldTime, oldTime))
		}

		count, err := CleanupOrphanedWorkspaces(logger, cacheDir, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 3, count)
		for _, dir := range oldDirs {
			_, err = os.Stat(filepath.Join(cacheDir, dir))
			assert.True(t, os.IsNotExist(err), "directory %s should be removed", dir)
		}
	})
}

type fakeRequeuer struct {
	count int64
	err   error
}

func (f *fakeRequeuer) RequeueAllProcessing(ctx context.Context) (int64, error) {
	return f.count, f.err
}

func TestRecoverStaleProcessingJobsReturnsCount(t *testing.T) {
	logger := newTestLogger()
	count, err := RecoverStaleProcessingJobs(context.Background(), logger, &fakeRequeuer{count: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestRecoverStaleProcessingJobsPropagatesError(t *testing.T) {
	logger := newTestLogger()
	_, err := RecoverStaleProcessingJobs(context.Background(), logger, &fakeRequeuer{err: errors.New("db down")})
	require.Error(t, err)
}
