package cleanup

import (
	"context"
	"os"
	"path/filepath"

	"github.com/italolelis/manga_downloader/internal/logctx"
)

// RemoveDir deletes a chapter working directory after its artifact was written.
// Failures are logged and returned so callers can report the files as retained.
func RemoveDir(ctx context.Context, dir string) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("Failed to remove chapter directory", "dir", dir, "err", err)

		return err
	}

	logger.Debug("Removed chapter directory", "dir", dir)

	return nil
}

// RemoveStaleParts deletes the files in dir whose names satisfy isPartial,
// leftovers of an interrupted run. A missing dir is not an error.
func RemoveStaleParts(ctx context.Context, dir string, isPartial func(name string) bool) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		logger.Error("Failed to list directory", "dir", dir, "err", err)

		return 0, err
	}

	removed := 0

	for _, e := range entries {
		if e.IsDir() || !isPartial(e.Name()) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to delete stale partial file", "file", path, "err", err)

			continue
		}

		removed++

		logger.Info("Deleted stale partial file", "file", path)
	}

	return removed, nil
}
